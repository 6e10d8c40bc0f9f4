package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type LiquidationReason uint8

const (
	LiquidationReasonNone LiquidationReason = iota
	LiquidationReasonBadDebt
	LiquidationReasonLtvExceeded
	LiquidationReasonIndividualDeleveraging
	LiquidationReasonMarketWideDeleveraging
	LiquidationReasonOrderExecution
)

func (lr LiquidationReason) String() string {
	switch lr {
	case LiquidationReasonNone:
		return "None"
	case LiquidationReasonBadDebt:
		return "BadDebt"
	case LiquidationReasonLtvExceeded:
		return "LtvExceeded"
	case LiquidationReasonIndividualDeleveraging:
		return "IndividualDeleveraging"
	case LiquidationReasonMarketWideDeleveraging:
		return "MarketWideDeleveraging"
	case LiquidationReasonOrderExecution:
		return "OrderExecution"
	default:
		return "Unknown"
	}
}

// LiquidationContext is computed per liquidation call and never stored.
type LiquidationContext struct {
	Reason      LiquidationReason `json:"reason"`
	BonusRate   fraction.Fraction `json:"bonusRate"`
	CloseFactor fraction.Fraction `json:"closeFactor"`
	// In debt leg units.
	MaxLiquidatableAmount fraction.Fraction `json:"maxLiquidatableAmount"`

	Ltv          fraction.Fraction `json:"ltv"`
	NoBfLtv      fraction.Fraction `json:"noBfLtv"`
	UnhealthyLtv fraction.Fraction `json:"unhealthyLtv"`
}

type LiquidationResult struct {
	Reason    LiquidationReason `json:"reason"`
	BonusRate fraction.Fraction `json:"bonusRate"`

	SettleAmount             fraction.Fraction `json:"settleAmount"`
	RepayAmount              uint64            `json:"repayAmount"`
	WithdrawCollateralAmount uint64            `json:"withdrawCollateralAmount"`
	WithdrawLiquidityAmount  uint64            `json:"withdrawLiquidityAmount"`
	ProtocolFee              uint64            `json:"protocolFee"`
	// Liquidity the liquidator keeps after the protocol fee.
	ReceivedLiquidityAmount uint64 `json:"receivedLiquidityAmount"`

	// LTV without borrow factors around the liquidation.
	LtvBefore fraction.Fraction `json:"ltvBefore"`
	LtvAfter  fraction.Fraction `json:"ltvAfter"`
}

// CheckLiquidationReason picks the first applicable reason in precedence
// order: bad debt, unhealthy LTV, individual then market-wide deleveraging,
// order execution.
func CheckLiquidationReason(market *LendingMarket, o *Obligation, repayReserve, withdrawReserve *Reserve, now int64) (LiquidationReason, error) {
	noBfLtv, err := o.NoBfLoanToValue()
	if err != nil {
		return LiquidationReasonNone, err
	}
	if !o.BorrowedAssetsMarketValue.IsZero() && noBfLtv.Gte(BAD_DEBT_LTV) {
		return LiquidationReasonBadDebt, nil
	}
	if o.IsUnhealthy() {
		return LiquidationReasonLtvExceeded, nil
	}
	ltv, err := o.LoanToValue()
	if err != nil {
		return LiquidationReasonNone, err
	}
	if market.AutodeleverageEnabled {
		if ok, _ := individualDeleveragingElapsed(market, o, now); ok && ltv.Gt(fraction.FromPercent(uint64(o.AutodeleverageTargetLtvPct))) {
			return LiquidationReasonIndividualDeleveraging, nil
		}
		if ok, _ := repayReserve.DeleveragingElapsed(now); ok {
			return LiquidationReasonMarketWideDeleveraging, nil
		}
		if ok, _ := withdrawReserve.DeleveragingElapsed(now); ok {
			return LiquidationReasonMarketWideDeleveraging, nil
		}
	}
	if o.Order != nil && o.Order.IsTriggered(ltv) {
		return LiquidationReasonOrderExecution, nil
	}
	return LiquidationReasonNone, nil
}

func individualDeleveragingElapsed(market *LendingMarket, o *Obligation, now int64) (bool, uint64) {
	if !o.IsMarkedForDeleveraging() {
		return false, 0
	}
	end := o.AutodeleverageMarginCallStartedTs + int64(market.IndividualAutodeleverageMarginCallPeriodSecs)
	if now < end {
		return false, 0
	}
	return true, uint64(now - end)
}

func bonusRange(repayReserve, withdrawReserve *Reserve) (fraction.Fraction, fraction.Fraction) {
	minBps := max(repayReserve.Config.MinLiquidationBonusBps, withdrawReserve.Config.MinLiquidationBonusBps)
	maxBps := max(repayReserve.Config.MaxLiquidationBonusBps, withdrawReserve.Config.MaxLiquidationBonusBps)
	return fraction.FromBps(uint64(minBps)), fraction.FromBps(uint64(maxBps))
}

// BadDebtLiquidationBonus caps the configured bad-debt bonus by what is left
// of the collateral above the debt: 1 - noBfLtv.
func BadDebtLiquidationBonus(withdrawReserve *Reserve, noBfLtv fraction.Fraction) fraction.Fraction {
	bonus := fraction.FromBps(uint64(withdrawReserve.Config.BadDebtLiquidationBonusBps))
	return fraction.Min(bonus, fraction.One.SaturatingSub(noBfLtv))
}

// UnhealthyLiquidationBonus is clamp(max(minBonus, ltv - unhealthyLtv), maxBonus),
// capped by the elevation group bonus and by the distance to the bad debt
// LTV: BAD_DEBT_LTV - noBfLtv.
func UnhealthyLiquidationBonus(minBonus, maxBonus, ltv, unhealthyLtv, noBfLtv fraction.Fraction, eg *ElevationGroup) fraction.Fraction {
	bonus := fraction.MaxOf(ltv.SaturatingSub(unhealthyLtv), minBonus)
	bonus = fraction.Min(bonus, maxBonus)
	if eg != nil {
		bonus = fraction.Min(bonus, eg.MaxLiquidationBonus())
	}
	return fraction.Min(bonus, BAD_DEBT_LTV.SaturatingSub(noBfLtv))
}

// DeleveragingLiquidationBonus grows from minBonus by bpsPerDay for every
// day past the margin call period, up to maxBonus.
func DeleveragingLiquidationBonus(minBonus, maxBonus fraction.Fraction, bpsPerDay, secsElapsed uint64) (fraction.Fraction, error) {
	increase, err := fraction.FromBps(bpsPerDay).MulUint64(secsElapsed)
	if err != nil {
		return maxBonus, nil
	}
	if increase, err = increase.DivUint64(SECONDS_PER_DAY); err != nil {
		return fraction.Zero, err
	}
	bonus, err := minBonus.Add(increase)
	if err != nil {
		return maxBonus, nil
	}
	return fraction.Min(bonus, maxBonus), nil
}

// LiquidationBonus computes the bonus rate for reason.
func LiquidationBonus(market *LendingMarket, o *Obligation, reason LiquidationReason, repayReserve, withdrawReserve *Reserve, now int64) (fraction.Fraction, error) {
	noBfLtv, err := o.NoBfLoanToValue()
	if err != nil {
		return fraction.Zero, err
	}
	ltv, err := o.LoanToValue()
	if err != nil {
		return fraction.Zero, err
	}
	minBonus, maxBonus := bonusRange(repayReserve, withdrawReserve)

	switch reason {
	case LiquidationReasonBadDebt:
		return BadDebtLiquidationBonus(withdrawReserve, noBfLtv), nil
	case LiquidationReasonLtvExceeded:
		unhealthyLtv, err := o.UnhealthyLoanToValue()
		if err != nil {
			return fraction.Zero, err
		}
		eg, err := market.GetElevationGroup(o.ElevationGroup)
		if err != nil {
			return fraction.Zero, err
		}
		return UnhealthyLiquidationBonus(minBonus, maxBonus, ltv, unhealthyLtv, noBfLtv, eg), nil
	case LiquidationReasonIndividualDeleveraging, LiquidationReasonMarketWideDeleveraging, LiquidationReasonOrderExecution:
		bonus, err := softLiquidationBonus(market, o, reason, repayReserve, withdrawReserve, ltv, minBonus, maxBonus, now)
		if err != nil {
			return fraction.Zero, err
		}
		return fraction.Min(bonus, BAD_DEBT_LTV.SaturatingSub(noBfLtv)), nil
	}
	return fraction.Zero, errors.Wrapf(ObligationHealthy, "reason %s", reason)
}

func softLiquidationBonus(market *LendingMarket, o *Obligation, reason LiquidationReason, repayReserve, withdrawReserve *Reserve, ltv, minBonus, maxBonus fraction.Fraction, now int64) (fraction.Fraction, error) {
	switch reason {
	case LiquidationReasonIndividualDeleveraging:
		_, elapsed := individualDeleveragingElapsed(market, o, now)
		return DeleveragingLiquidationBonus(minBonus, maxBonus, repayReserve.Config.DeleveragingBonusIncreaseBpsPerDay, elapsed)
	case LiquidationReasonMarketWideDeleveraging:
		reserve := repayReserve
		ok, elapsed := repayReserve.DeleveragingElapsed(now)
		if !ok {
			reserve = withdrawReserve
			_, elapsed = withdrawReserve.DeleveragingElapsed(now)
		}
		return DeleveragingLiquidationBonus(minBonus, maxBonus, reserve.Config.DeleveragingBonusIncreaseBpsPerDay, elapsed)
	default:
		if o.Order == nil {
			return fraction.Zero, errors.Wrap(InvalidObligationOrder, "obligation has no order")
		}
		unhealthyLtv, err := o.UnhealthyLoanToValue()
		if err != nil {
			return fraction.Zero, err
		}
		return o.Order.ExecutionBonus(ltv, unhealthyLtv)
	}
}

// LiquidationCloseFactor is the share of total debt value liquidatable at
// once: all of it above the insolvency risk LTV, in bad debt or for dust
// positions, else the market close factor.
func LiquidationCloseFactor(market *LendingMarket, o *Obligation, reason LiquidationReason) (fraction.Fraction, error) {
	if reason == LiquidationReasonBadDebt {
		return fraction.One, nil
	}
	ltv, err := o.LoanToValue()
	if err != nil {
		return fraction.Zero, err
	}
	if ltv.Gt(market.InsolvencyRiskLtv()) {
		return fraction.One, nil
	}
	if o.BorrowedAssetsMarketValue.Lt(fraction.FromUint64(market.MinFullLiquidationValueThreshold)) {
		return fraction.One, nil
	}
	return market.CloseFactor(), nil
}

// MaxLiquidatableBorrowedAmount bounds the debt of leg liquidatable in one
// call by the close factor, the leg value and the market cap per call.
// Bad debt settles the whole leg.
func MaxLiquidatableBorrowedAmount(market *LendingMarket, o *Obligation, leg *ObligationLiquidity, closeFactor fraction.Fraction, reason LiquidationReason) (fraction.Fraction, error) {
	if reason == LiquidationReasonBadDebt || leg.MarketValue.IsZero() {
		return leg.BorrowedAmount, nil
	}
	maxValue, err := o.BorrowedAssetsMarketValue.Mul(closeFactor)
	if err != nil {
		return fraction.Zero, err
	}
	maxValue = fraction.Min(maxValue, leg.MarketValue)
	maxValue = fraction.Min(maxValue, fraction.FromUint64(market.MaxLiquidatableDebtMarketValueAtOnce))

	amount, err := leg.BorrowedAmount.Mul(maxValue)
	if err != nil {
		return fraction.Zero, err
	}
	return amount.Div(leg.MarketValue)
}

// NewLiquidationContext resolves reason, bonus, close factor and the
// liquidatable amount of the repay leg. A healthy obligation fails with
// ObligationHealthy.
func NewLiquidationContext(market *LendingMarket, o *Obligation, repayReserve, withdrawReserve *Reserve, now int64) (LiquidationContext, error) {
	idx := o.FindLiquidity(repayReserve.Id)
	if idx < 0 {
		return LiquidationContext{}, errors.Wrapf(InvalidLiquidationReserves, "no debt in %s", repayReserve.Config.TokenInfo.Symbol)
	}
	leg := &o.Borrows[idx]

	reason, err := CheckLiquidationReason(market, o, repayReserve, withdrawReserve, now)
	if err != nil {
		return LiquidationContext{}, err
	}
	if reason == LiquidationReasonNone {
		return LiquidationContext{}, errors.Wrapf(ObligationHealthy, "obligation %s", o.Id)
	}
	bonus, err := LiquidationBonus(market, o, reason, repayReserve, withdrawReserve, now)
	if err != nil {
		return LiquidationContext{}, err
	}
	closeFactor, err := LiquidationCloseFactor(market, o, reason)
	if err != nil {
		return LiquidationContext{}, err
	}
	maxAmount, err := MaxLiquidatableBorrowedAmount(market, o, leg, closeFactor, reason)
	if err != nil {
		return LiquidationContext{}, err
	}

	lc := LiquidationContext{
		Reason:                reason,
		BonusRate:             bonus,
		CloseFactor:           closeFactor,
		MaxLiquidatableAmount: maxAmount,
	}
	if lc.Ltv, err = o.LoanToValue(); err != nil {
		return LiquidationContext{}, err
	}
	if lc.NoBfLtv, err = o.NoBfLoanToValue(); err != nil {
		return LiquidationContext{}, err
	}
	if lc.UnhealthyLtv, err = o.UnhealthyLoanToValue(); err != nil {
		return LiquidationContext{}, err
	}
	return lc, nil
}

// CalculateLiquidation splits a liquidation of up to liquidityAmount of the
// repay leg into the debt settled, the amount repaid and the collateral
// withdrawn. When the bonus-inclusive value reaches the collateral value the
// whole deposit is taken and the settlement shrinks to match; in bad debt,
// taking the last deposit settles the whole leg and socializes the rest.
func CalculateLiquidation(o *Obligation, lc LiquidationContext, repayReserveId, withdrawReserveId uuid.UUID, liquidityAmount uint64) (LiquidationResult, error) {
	legIdx := o.FindLiquidity(repayReserveId)
	collIdx := o.FindCollateral(withdrawReserveId)
	if legIdx < 0 || collIdx < 0 {
		return LiquidationResult{}, errors.Wrap(InvalidLiquidationReserves, "missing debt or collateral leg")
	}
	leg := o.Borrows[legIdx]
	coll := o.Deposits[collIdx]
	if leg.BorrowedAmount.IsZero() {
		return LiquidationResult{}, errors.Wrap(ObligationLiquidityEmpty, "repay leg")
	}
	if coll.DepositedAmount == 0 || coll.MarketValue.IsZero() {
		return LiquidationResult{}, errors.Wrap(ObligationCollateralEmpty, "withdraw leg")
	}
	if liquidityAmount == 0 {
		return LiquidationResult{}, errors.Wrap(InvalidAmount, "liquidation amount is zero")
	}

	amount := fraction.Min(fraction.FromUint64(liquidityAmount), lc.MaxLiquidatableAmount)
	if liquidityAmount == U64_MAX {
		amount = lc.MaxLiquidatableAmount
	}
	amount = fraction.Min(amount, leg.BorrowedAmount)
	if amount.IsZero() {
		return LiquidationResult{}, errors.Wrap(LiquidationTooSmall, "nothing liquidatable")
	}

	ratio, err := amount.Div(leg.BorrowedAmount)
	if err != nil {
		return LiquidationResult{}, err
	}
	onePlusBonus, err := fraction.One.Add(lc.BonusRate)
	if err != nil {
		return LiquidationResult{}, err
	}
	valueWithBonus, err := leg.MarketValue.Mul(ratio)
	if err != nil {
		return LiquidationResult{}, err
	}
	if valueWithBonus, err = valueWithBonus.Mul(onePlusBonus); err != nil {
		return LiquidationResult{}, err
	}

	result := LiquidationResult{Reason: lc.Reason, BonusRate: lc.BonusRate, LtvBefore: lc.NoBfLtv}
	if valueWithBonus.Gte(coll.MarketValue) {
		repayRatio, err := coll.MarketValue.Div(valueWithBonus)
		if err != nil {
			return LiquidationResult{}, err
		}
		repayPart, err := amount.Mul(repayRatio)
		if err != nil {
			return LiquidationResult{}, err
		}
		result.WithdrawCollateralAmount = coll.DepositedAmount
		result.SettleAmount = repayPart
		if lc.Reason == LiquidationReasonBadDebt && len(o.Deposits) == 1 {
			result.SettleAmount = leg.BorrowedAmount
		}
		if result.RepayAmount, err = repayPart.ToCeil(); err != nil {
			return LiquidationResult{}, err
		}
	} else {
		result.SettleAmount = amount
		if result.RepayAmount, err = amount.ToCeil(); err != nil {
			return LiquidationResult{}, err
		}
		withdraw, err := fraction.FromUint64(coll.DepositedAmount).Mul(valueWithBonus)
		if err != nil {
			return LiquidationResult{}, err
		}
		if withdraw, err = withdraw.Div(coll.MarketValue); err != nil {
			return LiquidationResult{}, err
		}
		if result.WithdrawCollateralAmount, err = withdraw.ToFloor(); err != nil {
			return LiquidationResult{}, err
		}
	}

	if result.SettleAmount.IsZero() || result.RepayAmount == 0 || result.WithdrawCollateralAmount == 0 {
		return LiquidationResult{}, errors.Wrapf(LiquidationTooSmall, "settle %s repay %d withdraw %d",
			result.SettleAmount, result.RepayAmount, result.WithdrawCollateralAmount)
	}
	return result, nil
}
