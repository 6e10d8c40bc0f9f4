package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
)

type (
	CurvePoint struct {
		UtilizationRateBps uint32 `json:"utilizationRateBps" yaml:"utilization_bps"`
		BorrowRateBps      uint32 `json:"borrowRateBps" yaml:"rate_bps"`
	}

	// BorrowRateCurve is a piecewise linear borrow rate keyed by utilization.
	BorrowRateCurve struct {
		Points []CurvePoint `json:"points"`
	}
)

func NewBorrowRateCurve(points ...CurvePoint) BorrowRateCurve {
	return BorrowRateCurve{Points: points}
}

func (c BorrowRateCurve) Validate() error {
	if len(c.Points) < 2 || len(c.Points) > MAX_CURVE_POINTS {
		return errors.Wrapf(InvalidConfig, "borrow rate curve needs 2..%d points, got %d", MAX_CURVE_POINTS, len(c.Points))
	}
	if c.Points[0].UtilizationRateBps != 0 {
		return errors.Wrap(InvalidConfig, "borrow rate curve must start at 0% utilization")
	}
	if c.Points[len(c.Points)-1].UtilizationRateBps != FULL_BPS {
		return errors.Wrap(InvalidConfig, "borrow rate curve must end at 100% utilization")
	}
	for i := 1; i < len(c.Points); i++ {
		prev, cur := c.Points[i-1], c.Points[i]
		if cur.UtilizationRateBps <= prev.UtilizationRateBps {
			return errors.Wrapf(InvalidConfig, "curve utilization must strictly increase at point %d", i)
		}
		if cur.BorrowRateBps < prev.BorrowRateBps {
			return errors.Wrapf(InvalidConfig, "curve rate must not decrease at point %d", i)
		}
	}
	return nil
}

// GetBorrowRate returns the annual borrow rate at the given utilization. An
// exact breakpoint returns its configured rate without interpolation.
func (c BorrowRateCurve) GetBorrowRate(utilization fraction.Fraction) (fraction.Fraction, error) {
	if len(c.Points) == 0 {
		return fraction.Zero, errors.Wrap(InvalidConfig, "empty borrow rate curve")
	}
	utilization = fraction.Min(utilization, fraction.One)

	for i := 1; i < len(c.Points); i++ {
		start, end := c.Points[i-1], c.Points[i]
		startUtil := fraction.FromBps(uint64(start.UtilizationRateBps))
		endUtil := fraction.FromBps(uint64(end.UtilizationRateBps))

		if utilization.Eq(startUtil) {
			return fraction.FromBps(uint64(start.BorrowRateBps)), nil
		}
		if utilization.Eq(endUtil) {
			return fraction.FromBps(uint64(end.BorrowRateBps)), nil
		}
		if utilization.Gt(startUtil) && utilization.Lt(endUtil) {
			return interpolate(start, end, utilization.SaturatingSub(startUtil))
		}
	}

	last := c.Points[len(c.Points)-1]
	return fraction.FromBps(uint64(last.BorrowRateBps)), nil
}

func interpolate(start, end CurvePoint, offset fraction.Fraction) (fraction.Fraction, error) {
	rateSpan := fraction.FromBps(uint64(end.BorrowRateBps - start.BorrowRateBps))
	utilSpan := fraction.FromBps(uint64(end.UtilizationRateBps - start.UtilizationRateBps))

	slope, err := rateSpan.Div(utilSpan)
	if err != nil {
		return fraction.Zero, err
	}
	delta, err := offset.Mul(slope)
	if err != nil {
		return fraction.Zero, err
	}
	return fraction.FromBps(uint64(start.BorrowRateBps)).Add(delta)
}
