package fraction

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	assert.True(t, FromPercent(100).Eq(One))
	assert.True(t, FromBps(10_000).Eq(One))
	assert.True(t, FromPercent(50).Eq(FromBps(5_000)))
	assert.Equal(t, "0.25", FromPercent(25).String())

	f, err := FromRatio(3, 4)
	require.NoError(t, err)
	assert.Equal(t, "0.75", f.String())

	_, err = FromRatio(1, 0)
	assert.True(t, errors.Is(err, MathOverflow))

	_, err = FromDecimal(decimal.NewFromInt(-1))
	assert.True(t, errors.Is(err, MathOverflow))
}

func TestArithmetic(t *testing.T) {
	a := MustFromDecimal("1.5")
	b := MustFromDecimal("2.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "3.75", sum.String())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, "0.75", diff.String())

	_, err = a.Sub(b)
	assert.True(t, errors.Is(err, MathOverflow))
	assert.True(t, a.SaturatingSub(b).IsZero())

	prod, err := a.Mul(b)
	require.NoError(t, err)
	assert.Equal(t, "3.375", prod.String())

	quo, err := b.Div(a)
	require.NoError(t, err)
	assert.Equal(t, "1.5", quo.String())

	_, err = a.Div(Zero)
	assert.True(t, errors.Is(err, MathOverflow))

	p, err := FromUint64(2).Pow(10)
	require.NoError(t, err)
	assert.True(t, p.Eq(FromUint64(1024)))

	p, err = a.Pow(0)
	require.NoError(t, err)
	assert.True(t, p.Eq(One))
}

func TestOverflow(t *testing.T) {
	big := FromUint64(math.MaxUint64)

	_, err := big.Pow(5)
	assert.True(t, errors.Is(err, MathOverflow))

	_, err = Max.Add(One)
	assert.True(t, errors.Is(err, MathOverflow))

	_, err = Max.MulUint64(2)
	assert.True(t, errors.Is(err, MathOverflow))

	sq, err := big.Mul(big)
	require.NoError(t, err)
	_, err = sq.ToFloor()
	assert.True(t, errors.Is(err, IntegerOverflow))
}

func TestIntegerConversions(t *testing.T) {
	tests := []struct {
		name  string
		value string
		floor uint64
		ceil  uint64
		round uint64
	}{
		{name: "integer", value: "124", floor: 124, ceil: 124, round: 124},
		{name: "below half", value: "123.4", floor: 123, ceil: 124, round: 123},
		{name: "above half", value: "123.7", floor: 123, ceil: 124, round: 124},
		{name: "half to even down", value: "2.5", floor: 2, ceil: 3, round: 2},
		{name: "half to even up", value: "3.5", floor: 3, ceil: 4, round: 4},
		{name: "zero", value: "0", floor: 0, ceil: 0, round: 0},
		{name: "dust", value: "0.000001", floor: 0, ceil: 1, round: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustFromDecimal(tt.value)

			floor, err := f.ToFloor()
			require.NoError(t, err)
			assert.Equal(t, tt.floor, floor)

			ceil, err := f.ToCeil()
			require.NoError(t, err)
			assert.Equal(t, tt.ceil, ceil)

			round, err := f.ToRound()
			require.NoError(t, err)
			assert.Equal(t, tt.round, round)
		})
	}
}

func TestCeilAtMaxInteger(t *testing.T) {
	f, err := FromUint64(math.MaxUint64).Add(MustFromDecimal("0.5"))
	require.NoError(t, err)

	floor, err := f.ToFloor()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), floor)

	_, err = f.ToCeil()
	assert.True(t, errors.Is(err, IntegerOverflow))
}

func TestJSON(t *testing.T) {
	f := MustFromDecimal("123.7")
	data, err := json.Marshal(struct {
		Amount Fraction `json:"amount"`
	}{Amount: f})
	require.NoError(t, err)

	var out struct {
		Amount Fraction `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, f.Eq(out.Amount))
}

func TestCompare(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)
	assert.True(t, a.Lt(b))
	assert.True(t, b.Gt(a))
	assert.True(t, a.Lte(a))
	assert.True(t, a.Gte(a))
	assert.True(t, Min(a, b).Eq(a))
	assert.True(t, MaxOf(a, b).Eq(b))
}
