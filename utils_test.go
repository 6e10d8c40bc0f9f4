package klend

import (
	"testing"

	"github.com/DomeLiquid/klend/core"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcValue(t *testing.T) {
	tests := []struct {
		name     string
		amount   decimal.Decimal
		price    decimal.Decimal
		weight   *decimal.Decimal
		expected decimal.Decimal
	}{
		{
			name:     "normal",
			amount:   decimal.NewFromFloat(100),
			price:    decimal.NewFromFloat(2),
			weight:   decimalPtr(decimal.NewFromFloat(0.5)),
			expected: decimal.NewFromFloat(100),
		},
		{
			name:     "zero",
			amount:   decimal.Zero,
			price:    decimal.NewFromFloat(2),
			weight:   decimalPtr(decimal.NewFromFloat(0.5)),
			expected: decimal.Zero,
		},
		{
			name:     "nil",
			amount:   decimal.NewFromFloat(100),
			price:    decimal.NewFromFloat(2),
			weight:   nil,
			expected: decimal.NewFromFloat(200),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalcValue(tt.amount, tt.price, tt.weight)
			assert.True(t, result.Equal(tt.expected), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestCalcAmount(t *testing.T) {
	tests := []struct {
		name     string
		value    decimal.Decimal
		price    decimal.Decimal
		expected decimal.Decimal
	}{
		{
			name:     "normal",
			value:    decimal.NewFromFloat(200),
			price:    decimal.NewFromFloat(2),
			expected: decimal.NewFromFloat(100),
		},
		{
			name:     "zero price",
			value:    decimal.NewFromFloat(200),
			price:    decimal.Zero,
			expected: decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CalcAmount(tt.value, tt.price)
			if tt.price.IsZero() {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.True(t, result.Equal(tt.expected), "expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestAprToApy(t *testing.T) {
	assert.True(t, AprToApy(decimal.Zero).IsZero())

	apy := AprToApy(decimal.RequireFromString("0.1"))
	assert.True(t, apy.GreaterThan(decimal.RequireFromString("0.1051")), apy.String())
	assert.True(t, apy.LessThan(decimal.RequireFromString("0.1052")), apy.String())
}

func TestUiAmount(t *testing.T) {
	r := &core.Reserve{}
	r.Liquidity.MintDecimals = 6
	assert.Equal(t, "1.5", UiAmount(r, 1_500_000).String())
	assert.Equal(t, "18446744073709.551615", UiAmount(r, core.U64_MAX).String())

	r.Liquidity.MintDecimals = 0
	assert.Equal(t, "42", UiAmount(r, 42).String())
}

func TestComputeLiquidationPriceWithoutDebt(t *testing.T) {
	env := newTestEnv(t)

	market, o, reserves, err := env.engine.Obligation(env.ctx, env.market.Id, "lp")
	require.NoError(t, err)
	price, err := ComputeLiquidationPrice(market, o, reserves, env.usdc.Id)
	require.NoError(t, err)
	assert.True(t, price.IsZero())

	total, own, err := ComputeHealthComponents(market, o, reserves, env.usdc.Id)
	require.NoError(t, err)
	assert.Equal(t, "8500", total.Round(6).String())
	assert.True(t, total.Equal(own))

	_, err = ComputeLiquidationPrice(market, o, reserves, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, core.InvalidReserve)
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
