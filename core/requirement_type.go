package core

// RequirementType selects which threshold an obligation is measured against.
type RequirementType uint8

const (
	// Initial uses the max LTV; new borrows and withdrawals must stay below it.
	Initial RequirementType = iota
	// Maintenance uses the liquidation threshold.
	Maintenance
	// Equity weighs every deposit at 100%.
	Equity
)

func (rt RequirementType) String() string {
	switch rt {
	case Initial:
		return "Initial"
	case Maintenance:
		return "Maintenance"
	case Equity:
		return "Equity"
	default:
		return "Unknown"
	}
}

// ThresholdPct returns the percentage of reserve collateral counted under rt.
// Elevation group thresholds replace the reserve ones for member reserves.
func (rt RequirementType) ThresholdPct(reserve *Reserve, eg *ElevationGroup) uint8 {
	if rt == Equity {
		return 100
	}
	ltv, threshold := reserve.Config.LoanToValuePct, reserve.Config.LiquidationThresholdPct
	switch {
	case eg != nil && reserve.InElevationGroup(eg.Id):
		ltv, threshold = eg.LtvPct, eg.LiquidationThresholdPct
	case eg == nil && reserve.Config.DisableUsageAsCollOutsideEmode:
		ltv, threshold = 0, 0
	}
	if rt == Initial {
		return ltv
	}
	return threshold
}
