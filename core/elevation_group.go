package core

import (
	"slices"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// ElevationGroup overrides the risk parameters of obligations that only
// touch its member reserves.
type ElevationGroup struct {
	Id                      uint8  `json:"id" yaml:"id"`
	LtvPct                  uint8  `json:"ltvPct" yaml:"ltvPct"`
	LiquidationThresholdPct uint8  `json:"liquidationThresholdPct" yaml:"liquidationThresholdPct"`
	MaxLiquidationBonusBps  uint16 `json:"maxLiquidationBonusBps" yaml:"maxLiquidationBonusBps"`

	// uuid.Nil allows any member reserve as debt.
	DebtReserve uuid.UUID `json:"debtReserve" yaml:"debtReserve"`
	// Empty allows any member reserve as collateral.
	AllowedCollateralReserves []uuid.UUID `json:"allowedCollateralReserves" yaml:"allowedCollateralReserves"`
	// 0 means no limit.
	MaxReservesAsCollateral uint8 `json:"maxReservesAsCollateral" yaml:"maxReservesAsCollateral"`
}

func (eg *ElevationGroup) Validate() error {
	if eg.Id == ELEVATION_GROUP_NONE || eg.Id > MAX_ELEVATION_GROUP {
		return errors.Wrapf(InvalidConfig, "elevation group id %d", eg.Id)
	}
	if eg.LtvPct == 0 || eg.LiquidationThresholdPct == 0 {
		return errors.Wrapf(InvalidConfig, "elevation group %d: ltv and liquidation threshold must be set", eg.Id)
	}
	if eg.LtvPct > eg.LiquidationThresholdPct || eg.LiquidationThresholdPct >= 100 {
		return errors.Wrapf(InvalidConfig, "elevation group %d: need ltv %d <= threshold %d < 100", eg.Id, eg.LtvPct, eg.LiquidationThresholdPct)
	}
	if eg.MaxLiquidationBonusBps > FULL_BPS {
		return errors.Wrapf(InvalidConfig, "elevation group %d: bonus %d bps above 100%%", eg.Id, eg.MaxLiquidationBonusBps)
	}
	// threshold * (1 + bonus) <= 100%
	if uint64(eg.LiquidationThresholdPct)*(FULL_BPS+uint64(eg.MaxLiquidationBonusBps)) > 100*FULL_BPS {
		return errors.Wrapf(InvalidConfig, "elevation group %d: threshold %d%% with bonus %d bps exceeds 100%%",
			eg.Id, eg.LiquidationThresholdPct, eg.MaxLiquidationBonusBps)
	}
	return nil
}

func (eg *ElevationGroup) Clone() ElevationGroup {
	c := *eg
	c.AllowedCollateralReserves = slices.Clone(eg.AllowedCollateralReserves)
	return c
}

func (eg *ElevationGroup) MaxLiquidationBonus() fraction.Fraction {
	return fraction.FromBps(uint64(eg.MaxLiquidationBonusBps))
}

func (eg *ElevationGroup) AllowsCollateral(reserveId uuid.UUID) bool {
	return len(eg.AllowedCollateralReserves) == 0 || slices.Contains(eg.AllowedCollateralReserves, reserveId)
}

func (eg *ElevationGroup) AllowsDebt(reserveId uuid.UUID) bool {
	return eg.DebtReserve == uuid.Nil || eg.DebtReserve == reserveId
}

// CheckCollateral verifies that reserve can back an obligation in the group
// that already holds count collateral reserves, reserve included.
func (eg *ElevationGroup) CheckCollateral(reserve *Reserve, count int) error {
	if !reserve.InElevationGroup(eg.Id) {
		return errors.Wrapf(ElevationGroupMismatch, "collateral %s not in group %d", reserve.Config.TokenInfo.Symbol, eg.Id)
	}
	if !eg.AllowsCollateral(reserve.Id) {
		return errors.Wrapf(CollateralNotAllowed, "collateral %s not allowed in group %d", reserve.Config.TokenInfo.Symbol, eg.Id)
	}
	if eg.MaxReservesAsCollateral != 0 && count > int(eg.MaxReservesAsCollateral) {
		return errors.Wrapf(ElevationGroupTooManyReserves, "group %d allows %d collateral reserves", eg.Id, eg.MaxReservesAsCollateral)
	}
	return nil
}

func (eg *ElevationGroup) CheckDebt(reserve *Reserve) error {
	if !reserve.InElevationGroup(eg.Id) {
		return errors.Wrapf(ElevationGroupMismatch, "debt %s not in group %d", reserve.Config.TokenInfo.Symbol, eg.Id)
	}
	if !eg.AllowsDebt(reserve.Id) {
		return errors.Wrapf(ElevationGroupDebtNotAllowed, "debt %s in group %d", reserve.Config.TokenInfo.Symbol, eg.Id)
	}
	return nil
}
