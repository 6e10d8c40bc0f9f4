package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
)

type OrderConditionType uint8

const (
	OrderConditionNone OrderConditionType = iota
	OrderConditionUserLtvAbove
	OrderConditionUserLtvBelow
)

func (t OrderConditionType) String() string {
	switch t {
	case OrderConditionNone:
		return "None"
	case OrderConditionUserLtvAbove:
		return "UserLtvAbove"
	case OrderConditionUserLtvBelow:
		return "UserLtvBelow"
	default:
		return "Unknown"
	}
}

// ObligationOrder lets any liquidator deleverage the obligation once its LTV
// crosses the owner's threshold, for a bonus within the owner's range.
type ObligationOrder struct {
	ConditionType        OrderConditionType `json:"conditionType"`
	ConditionThreshold   fraction.Fraction  `json:"conditionThreshold"`
	MinExecutionBonusBps uint16             `json:"minExecutionBonusBps"`
	MaxExecutionBonusBps uint16             `json:"maxExecutionBonusBps"`
}

func (oo *ObligationOrder) Validate() error {
	if oo.ConditionType == OrderConditionNone || oo.ConditionType > OrderConditionUserLtvBelow {
		return errors.Wrapf(InvalidObligationOrder, "condition %s", oo.ConditionType)
	}
	if oo.ConditionThreshold.IsZero() || oo.ConditionThreshold.Gte(fraction.One) {
		return errors.Wrapf(InvalidObligationOrder, "threshold %s", oo.ConditionThreshold)
	}
	if oo.MinExecutionBonusBps > oo.MaxExecutionBonusBps || oo.MaxExecutionBonusBps > FULL_BPS {
		return errors.Wrapf(InvalidObligationOrder, "bonus range %d-%d bps", oo.MinExecutionBonusBps, oo.MaxExecutionBonusBps)
	}
	return nil
}

func (oo *ObligationOrder) IsTriggered(ltv fraction.Fraction) bool {
	switch oo.ConditionType {
	case OrderConditionUserLtvAbove:
		return ltv.Gt(oo.ConditionThreshold)
	case OrderConditionUserLtvBelow:
		return ltv.Lt(oo.ConditionThreshold)
	default:
		return false
	}
}

// ExecutionBonus interpolates between the min and max bonus as the LTV moves
// from the condition threshold towards unhealthyLtv. Below-threshold orders
// always pay the min bonus.
func (oo *ObligationOrder) ExecutionBonus(ltv, unhealthyLtv fraction.Fraction) (fraction.Fraction, error) {
	minBonus := fraction.FromBps(uint64(oo.MinExecutionBonusBps))
	maxBonus := fraction.FromBps(uint64(oo.MaxExecutionBonusBps))
	if oo.ConditionType != OrderConditionUserLtvAbove || unhealthyLtv.Lte(oo.ConditionThreshold) {
		return minBonus, nil
	}
	progress, err := ltv.SaturatingSub(oo.ConditionThreshold).Div(unhealthyLtv.SaturatingSub(oo.ConditionThreshold))
	if err != nil {
		return fraction.Zero, err
	}
	progress = fraction.Min(progress, fraction.One)
	extra, err := maxBonus.SaturatingSub(minBonus).Mul(progress)
	if err != nil {
		return fraction.Zero, err
	}
	return minBonus.Add(extra)
}
