package fraction

import (
	"encoding/json"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// FractionalBits is the number of binary digits after the point.
const FractionalBits = 60

var (
	MathOverflow    = errors.New("math overflow")
	IntegerOverflow = errors.New("integer overflow")
	DivisionByZero  = errors.Wrap(MathOverflow, "division by zero")
)

var (
	unitBits    = new(uint256.Int).Lsh(uint256.NewInt(1), FractionalBits)
	halfBits    = new(uint256.Int).Lsh(uint256.NewInt(1), FractionalBits-1)
	fracMask    = new(uint256.Int).Sub(unitBits, uint256.NewInt(1))
	unitDecimal = decimal.NewFromBigInt(unitBits.ToBig(), 0)

	Zero = Fraction{}
	One  = Fraction{bits: *unitBits}
	Max  = Fraction{bits: *new(uint256.Int).SetAllOne()}
)

// Fraction is an unsigned fixed-point number with 60 fractional bits backed by
// a 256-bit integer. Every arithmetic operation is checked.
type Fraction struct {
	bits uint256.Int
}

func FromUint64(n uint64) Fraction {
	var f Fraction
	f.bits.Lsh(uint256.NewInt(n), FractionalBits)
	return f
}

func FromPercent(pct uint64) Fraction {
	f, _ := FromRatio(pct, 100)
	return f
}

func FromBps(bps uint64) Fraction {
	f, _ := FromRatio(bps, 10_000)
	return f
}

// FromRatio returns floor(num / den) at full fractional precision.
func FromRatio(num, den uint64) (Fraction, error) {
	if den == 0 {
		return Zero, DivisionByZero
	}
	var f Fraction
	f.bits.Lsh(uint256.NewInt(num), FractionalBits)
	f.bits.Div(&f.bits, uint256.NewInt(den))
	return f, nil
}

// FromBits wraps a raw scaled value.
func FromBits(bits *uint256.Int) Fraction {
	var f Fraction
	f.bits.Set(bits)
	return f
}

func FromDecimal(d decimal.Decimal) (Fraction, error) {
	if d.IsNegative() {
		return Zero, errors.Wrapf(MathOverflow, "negative value %s", d)
	}
	scaled := d.Mul(unitDecimal).Floor().BigInt()
	bits, overflow := uint256.FromBig(scaled)
	if overflow {
		return Zero, errors.Wrapf(MathOverflow, "value %s", d)
	}
	return Fraction{bits: *bits}, nil
}

func MustFromDecimal(s string) Fraction {
	f, err := FromDecimal(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return f
}

func (f Fraction) Bits() *uint256.Int {
	return new(uint256.Int).Set(&f.bits)
}

func (f Fraction) Add(o Fraction) (Fraction, error) {
	var out Fraction
	if _, overflow := out.bits.AddOverflow(&f.bits, &o.bits); overflow {
		return Zero, MathOverflow
	}
	return out, nil
}

func (f Fraction) Sub(o Fraction) (Fraction, error) {
	var out Fraction
	if _, underflow := out.bits.SubOverflow(&f.bits, &o.bits); underflow {
		return Zero, errors.Wrapf(MathOverflow, "%s - %s", f, o)
	}
	return out, nil
}

// SaturatingSub returns f - o, or zero when o > f.
func (f Fraction) SaturatingSub(o Fraction) Fraction {
	if f.Lte(o) {
		return Zero
	}
	out, _ := f.Sub(o)
	return out
}

func (f Fraction) Mul(o Fraction) (Fraction, error) {
	var out Fraction
	if _, overflow := out.bits.MulDivOverflow(&f.bits, &o.bits, unitBits); overflow {
		return Zero, MathOverflow
	}
	return out, nil
}

func (f Fraction) Div(o Fraction) (Fraction, error) {
	if o.IsZero() {
		return Zero, DivisionByZero
	}
	var out Fraction
	if _, overflow := out.bits.MulDivOverflow(&f.bits, unitBits, &o.bits); overflow {
		return Zero, MathOverflow
	}
	return out, nil
}

func (f Fraction) MulUint64(n uint64) (Fraction, error) {
	var out Fraction
	if _, overflow := out.bits.MulOverflow(&f.bits, uint256.NewInt(n)); overflow {
		return Zero, MathOverflow
	}
	return out, nil
}

func (f Fraction) DivUint64(n uint64) (Fraction, error) {
	if n == 0 {
		return Zero, DivisionByZero
	}
	var out Fraction
	out.bits.Div(&f.bits, uint256.NewInt(n))
	return out, nil
}

func (f Fraction) Pow(exp uint64) (Fraction, error) {
	result := One
	base := f
	var err error
	for exp > 0 {
		if exp&1 == 1 {
			if result, err = result.Mul(base); err != nil {
				return Zero, err
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, err = base.Mul(base); err != nil {
				return Zero, err
			}
		}
	}
	return result, nil
}

func (f Fraction) ToFloor() (uint64, error) {
	var n uint256.Int
	n.Rsh(&f.bits, FractionalBits)
	if !n.IsUint64() {
		return 0, errors.Wrapf(IntegerOverflow, "%s", f)
	}
	return n.Uint64(), nil
}

func (f Fraction) ToCeil() (uint64, error) {
	n, err := f.ToFloor()
	if err != nil {
		return 0, err
	}
	if f.hasRemainder() {
		if n == ^uint64(0) {
			return 0, errors.Wrapf(IntegerOverflow, "%s", f)
		}
		n++
	}
	return n, nil
}

// ToRound rounds half to even.
func (f Fraction) ToRound() (uint64, error) {
	n, err := f.ToFloor()
	if err != nil {
		return 0, err
	}
	var rem uint256.Int
	rem.And(&f.bits, fracMask)
	switch rem.Cmp(halfBits) {
	case 1:
		n, err = increment(n, f)
	case 0:
		if n%2 == 1 {
			n, err = increment(n, f)
		}
	}
	return n, err
}

func increment(n uint64, f Fraction) (uint64, error) {
	if n == ^uint64(0) {
		return 0, errors.Wrapf(IntegerOverflow, "%s", f)
	}
	return n + 1, nil
}

func (f Fraction) hasRemainder() bool {
	var rem uint256.Int
	rem.And(&f.bits, fracMask)
	return !rem.IsZero()
}

func (f Fraction) IsZero() bool {
	return f.bits.IsZero()
}

func (f Fraction) Cmp(o Fraction) int {
	return f.bits.Cmp(&o.bits)
}

func (f Fraction) Eq(o Fraction) bool  { return f.Cmp(o) == 0 }
func (f Fraction) Lt(o Fraction) bool  { return f.Cmp(o) < 0 }
func (f Fraction) Lte(o Fraction) bool { return f.Cmp(o) <= 0 }
func (f Fraction) Gt(o Fraction) bool  { return f.Cmp(o) > 0 }
func (f Fraction) Gte(o Fraction) bool { return f.Cmp(o) >= 0 }

func Min(a, b Fraction) Fraction {
	if a.Lte(b) {
		return a
	}
	return b
}

func MaxOf(a, b Fraction) Fraction {
	if a.Gte(b) {
		return a
	}
	return b
}

func (f Fraction) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(f.bits.ToBig(), 0).DivRound(unitDecimal, 18)
}

func (f Fraction) String() string {
	return f.Decimal().String()
}

func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.bits.Dec())
}

func (f *Fraction) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		s = string(data)
	}
	bits, err := uint256.FromDecimal(s)
	if err != nil {
		return errors.Wrapf(err, "fraction bits %q", s)
	}
	f.bits = *bits
	return nil
}
