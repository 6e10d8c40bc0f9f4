package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type RiskEngine struct {
	Market     *LendingMarket
	Obligation *Obligation
	Reserves   ReserveMap
}

func NewRiskEngine(market *LendingMarket, obligation *Obligation, reserves ReserveMap) *RiskEngine {
	return &RiskEngine{
		Market:     market,
		Obligation: obligation,
		Reserves:   reserves,
	}
}

// CheckObligationHealth refreshes a copy of the obligation and requires its
// adjusted debt to stay within the rt threshold. The obligation itself stays
// stale.
func (r *RiskEngine) CheckObligationHealth(slot uint64, now int64, rt RequirementType) error {
	o := r.Obligation.Clone()
	if err := o.Refresh(r.Market, r.Reserves, slot, now); err != nil {
		return err
	}
	threshold := o.thresholdValue(rt)
	if o.BorrowFactorAdjustedDebtValue.Gt(threshold) {
		return errors.Wrapf(ObligationUnhealthy, "%s debt %s > %s threshold %s",
			o.Id, o.BorrowFactorAdjustedDebtValue, rt, threshold)
	}
	if len(o.Borrows) > 0 && o.NetValue().Lt(fraction.FromUint64(r.Market.MinNetValueInObligation)) {
		return errors.Wrapf(NetValueRemainingTooSmall, "%s net value %s < %d", o.Id, o.NetValue(), r.Market.MinNetValueInObligation)
	}
	return nil
}

// CheckPreLiquidationCondition requires a fresh obligation and fresh repay
// and withdraw reserves that are both legs of the obligation.
func (r *RiskEngine) CheckPreLiquidationCondition(slot uint64, repayReserveId, withdrawReserveId uuid.UUID) (*Reserve, *Reserve, error) {
	o := r.Obligation
	if err := o.AssertFresh(slot); err != nil {
		return nil, nil, err
	}
	if len(o.Borrows) == 0 {
		return nil, nil, errors.Wrapf(ObligationBorrowsEmpty, "obligation %s", o.Id)
	}
	if len(o.Deposits) == 0 {
		return nil, nil, errors.Wrapf(ObligationDepositsEmpty, "obligation %s", o.Id)
	}
	if o.FindLiquidity(repayReserveId) < 0 || o.FindCollateral(withdrawReserveId) < 0 {
		return nil, nil, errors.Wrapf(InvalidLiquidationReserves, "repay %s withdraw %s", repayReserveId, withdrawReserveId)
	}
	repayReserve, err := o.reserve(r.Reserves, repayReserveId)
	if err != nil {
		return nil, nil, err
	}
	withdrawReserve, err := o.reserve(r.Reserves, withdrawReserveId)
	if err != nil {
		return nil, nil, err
	}
	if err := repayReserve.AssertFresh(slot); err != nil {
		return nil, nil, err
	}
	if err := withdrawReserve.AssertFresh(slot); err != nil {
		return nil, nil, err
	}
	return repayReserve, withdrawReserve, nil
}

// CheckPostLiquidationCondition refreshes the liquidated obligation and
// returns its LTV without borrow factors. Outside of bad debt the
// liquidation must not have raised it.
func (r *RiskEngine) CheckPostLiquidationCondition(slot uint64, now int64, reason LiquidationReason, noBfLtvBefore fraction.Fraction) (fraction.Fraction, error) {
	o := r.Obligation
	if err := o.Refresh(r.Market, r.Reserves, slot, now); err != nil {
		return fraction.Zero, err
	}
	noBfLtv, err := o.NoBfLoanToValue()
	if err != nil {
		return fraction.Zero, err
	}
	if reason != LiquidationReasonBadDebt && noBfLtv.Gt(noBfLtvBefore) {
		return fraction.Zero, errors.Wrapf(ObligationUnhealthy, "liquidation raised ltv %s -> %s", noBfLtvBefore, noBfLtv)
	}
	return noBfLtv, nil
}
