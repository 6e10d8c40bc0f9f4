package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// The operations below mutate the records they are given in place and may
// leave them half-updated on error; callers work on clones and keep them
// only on success.

// RefreshReserve accrues interest up to slot, caches price when given and
// marks the reserve fresh.
func RefreshReserve(log Log, market *LendingMarket, reserve *Reserve, price *Price, slot uint64, now int64) error {
	if reserve.LendingMarket != market.Id {
		return errors.Wrapf(InvalidLendingMarket, "reserve %s", reserve.Id)
	}
	if err := reserve.AccrueInterest(log, slot, market.ReferralFeeBps); err != nil {
		return err
	}
	if price != nil {
		if err := reserve.SetPrice(*price, now); err != nil {
			return err
		}
	}
	reserve.LastUpdate.Update(slot, now, reserve.PriceStatus(now))
	return nil
}

func RefreshObligation(market *LendingMarket, obligation *Obligation, reserves ReserveMap, slot uint64, now int64) error {
	if obligation.LendingMarket != market.Id {
		return errors.Wrapf(InvalidLendingMarket, "obligation %s", obligation.Id)
	}
	return obligation.Refresh(market, reserves, slot, now)
}

// DepositReserveLiquidity returns the collateral minted and the liquidity
// taken.
func DepositReserveLiquidity(market *LendingMarket, reserve *Reserve, liquidityAmount, slot uint64, now int64) (uint64, uint64, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return 0, 0, err
	}
	if reserve.LastUpdate.IsStale(slot) {
		return 0, 0, errors.Wrapf(StaleReserve, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}
	collateral, liquidity, err := reserve.Deposit(liquidityAmount, uint64(now))
	if err != nil {
		return 0, 0, err
	}
	reserve.LastUpdate.MarkStale()
	return collateral, liquidity, nil
}

func RedeemReserveCollateral(market *LendingMarket, reserve *Reserve, collateralAmount, slot uint64, now int64) (uint64, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return 0, err
	}
	if reserve.LastUpdate.IsStale(slot) {
		return 0, errors.Wrapf(StaleReserve, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}
	liquidity, err := reserve.Redeem(collateralAmount, uint64(now))
	if err != nil {
		return 0, err
	}
	reserve.LastUpdate.MarkStale()
	return liquidity, nil
}

func DepositObligationCollateral(market *LendingMarket, obligation *Obligation, reserve *Reserve, collateralAmount, slot uint64) error {
	if err := market.AssertNotEmergency(); err != nil {
		return err
	}
	if err := reserve.AssertOperational(true); err != nil {
		return err
	}
	if reserve.LastUpdate.IsStale(slot) {
		return errors.Wrapf(StaleReserve, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}
	return obligation.DepositCollateral(market, reserve, collateralAmount)
}

// WithdrawObligationCollateral withdraws collateral units; U64_MAX takes
// as much as the max LTV allows.
func WithdrawObligationCollateral(market *LendingMarket, obligation *Obligation, reserves ReserveMap, reserveId uuid.UUID, collateralAmount, slot uint64, now int64) (uint64, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return 0, err
	}
	if collateralAmount == 0 {
		return 0, errors.Wrap(InvalidAmount, "withdraw amount is zero")
	}
	reserve, err := obligation.reserve(reserves, reserveId)
	if err != nil {
		return 0, err
	}
	if err := reserve.AssertFresh(slot); err != nil {
		return 0, err
	}
	if err := obligation.AssertFresh(slot); err != nil {
		return 0, err
	}
	if obligation.FindCollateral(reserveId) < 0 {
		return 0, errors.Wrapf(ObligationCollateralEmpty, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}

	maxWithdraw, err := obligation.MaxWithdrawAmount(market, reserve, Initial)
	if err != nil {
		return 0, err
	}
	if collateralAmount == U64_MAX {
		collateralAmount = maxWithdraw
		if collateralAmount == 0 {
			return 0, errors.Wrapf(WithdrawExceedsLimit, "nothing withdrawable from %s", reserve.Config.TokenInfo.Symbol)
		}
	} else if collateralAmount > maxWithdraw {
		return 0, errors.Wrapf(WithdrawExceedsLimit, "withdraw %d > max %d", collateralAmount, maxWithdraw)
	}

	if err := obligation.WithdrawCollateral(reserveId, collateralAmount); err != nil {
		return 0, err
	}
	if err := NewRiskEngine(market, obligation, reserves).CheckObligationHealth(slot, now, Initial); err != nil {
		return 0, err
	}
	return collateralAmount, nil
}

// BorrowObligationLiquidity borrows from reserveId against the obligation.
// U64_MAX borrows as much as possible with fees taken out of the amount.
func BorrowObligationLiquidity(log Log, market *LendingMarket, obligation *Obligation, reserves ReserveMap, reserveId uuid.UUID, liquidityAmount, slot uint64, now int64) (CalculateBorrowResult, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return CalculateBorrowResult{}, err
	}
	if market.BorrowDisabled {
		return CalculateBorrowResult{}, errors.Wrapf(BorrowingDisabled, "lending market %s", market.Name)
	}
	reserve, err := obligation.reserve(reserves, reserveId)
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	if err := reserve.AssertFresh(slot); err != nil {
		return CalculateBorrowResult{}, err
	}
	if err := obligation.AssertFresh(slot); err != nil {
		return CalculateBorrowResult{}, err
	}
	if len(obligation.Deposits) == 0 {
		return CalculateBorrowResult{}, errors.Wrapf(ObligationDepositsEmpty, "obligation %s", obligation.Id)
	}

	eg, err := market.GetElevationGroup(obligation.ElevationGroup)
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	if eg != nil {
		if err := eg.CheckDebt(reserve); err != nil {
			return CalculateBorrowResult{}, err
		}
	}
	inEG := obligation.inElevationGroup(reserve)

	result, err := reserve.CalculateBorrow(liquidityAmount, obligation.RemainingBorrowValue(), reserve.RemainingBorrowCapacity(inEG),
		market.ReferralFeeBps, inEG, obligation.HasReferrer())
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	if log != nil {
		log.Debug().Msgf("borrow %s: amount %s receive %d fee %d referrer fee %d",
			reserve.Config.TokenInfo.Symbol, result.BorrowAmount, result.ReceiveAmount, result.BorrowFee, result.ReferrerFee)
	}
	if err := reserve.Borrow(result, inEG, uint64(now)); err != nil {
		return CalculateBorrowResult{}, err
	}
	if err := obligation.AddBorrow(market, reserve, result.BorrowAmount); err != nil {
		return CalculateBorrowResult{}, err
	}
	if err := NewRiskEngine(market, obligation, reserves).CheckObligationHealth(slot, now, Initial); err != nil {
		return CalculateBorrowResult{}, err
	}
	return result, nil
}

// RepayObligationLiquidity returns the debt settled and the liquidity owed;
// U64_MAX repays the whole leg.
func RepayObligationLiquidity(market *LendingMarket, obligation *Obligation, reserve *Reserve, liquidityAmount, slot uint64, now int64) (fraction.Fraction, uint64, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return fraction.Zero, 0, err
	}
	if reserve.LastUpdate.IsStale(slot) {
		return fraction.Zero, 0, errors.Wrapf(StaleReserve, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}
	idx := obligation.FindLiquidity(reserve.Id)
	if idx < 0 {
		return fraction.Zero, 0, errors.Wrapf(ObligationLiquidityEmpty, "reserve %s", reserve.Config.TokenInfo.Symbol)
	}
	leg := &obligation.Borrows[idx]
	if err := obligation.accrueLiquidity(leg, reserve, market.ReferralFeeBps); err != nil {
		return fraction.Zero, 0, err
	}

	settle, repay, err := CalculateRepay(liquidityAmount, leg.BorrowedAmount)
	if err != nil {
		return fraction.Zero, 0, err
	}
	if err := reserve.Repay(repay, settle, obligation.inElevationGroup(reserve), uint64(now)); err != nil {
		return fraction.Zero, 0, err
	}
	if err := obligation.RepayLiquidity(reserve.Id, settle); err != nil {
		return fraction.Zero, 0, err
	}
	return settle, repay, nil
}

// LiquidateObligation repays up to liquidityAmount of the repayReserveId debt
// and redeems the seized collateral of withdrawReserveId for the liquidator,
// minus the protocol fee on the bonus.
func LiquidateObligation(log Log, market *LendingMarket, obligation *Obligation, reserves ReserveMap, repayReserveId, withdrawReserveId uuid.UUID, liquidityAmount, minAcceptableReceived, slot uint64, now int64) (LiquidationResult, error) {
	if err := market.AssertNotEmergency(); err != nil {
		return LiquidationResult{}, err
	}
	risk := NewRiskEngine(market, obligation, reserves)
	repayReserve, withdrawReserve, err := risk.CheckPreLiquidationCondition(slot, repayReserveId, withdrawReserveId)
	if err != nil {
		return LiquidationResult{}, err
	}

	lc, err := NewLiquidationContext(market, obligation, repayReserve, withdrawReserve, now)
	if err != nil {
		return LiquidationResult{}, err
	}
	result, err := CalculateLiquidation(obligation, lc, repayReserveId, withdrawReserveId, liquidityAmount)
	if err != nil {
		return LiquidationResult{}, err
	}
	if log != nil {
		log.Info().Msgf("liquidating %s: reason %s bonus %s settle %s repay %d withdraw %d",
			obligation.Id, lc.Reason, lc.BonusRate.Decimal().StringFixed(4), result.SettleAmount, result.RepayAmount, result.WithdrawCollateralAmount)
	}

	inEG := obligation.inElevationGroup(repayReserve)
	if err := repayReserve.Repay(result.RepayAmount, result.SettleAmount, inEG, uint64(now)); err != nil {
		return LiquidationResult{}, err
	}
	if err := obligation.RepayLiquidity(repayReserveId, result.SettleAmount); err != nil {
		return LiquidationResult{}, err
	}
	if err := obligation.WithdrawCollateral(withdrawReserveId, result.WithdrawCollateralAmount); err != nil {
		return LiquidationResult{}, err
	}

	if result.WithdrawLiquidityAmount, err = withdrawReserve.redeem(result.WithdrawCollateralAmount, uint64(now), false); err != nil {
		return LiquidationResult{}, err
	}
	if result.ProtocolFee, err = withdrawReserve.ProtocolLiquidationFee(result.WithdrawLiquidityAmount, result.BonusRate); err != nil {
		return LiquidationResult{}, err
	}
	result.ProtocolFee = min(result.ProtocolFee, result.WithdrawLiquidityAmount)
	if err := withdrawReserve.CollectProtocolLiquidationFee(result.ProtocolFee); err != nil {
		return LiquidationResult{}, err
	}
	result.ReceivedLiquidityAmount = result.WithdrawLiquidityAmount - result.ProtocolFee
	if result.ReceivedLiquidityAmount < minAcceptableReceived {
		return LiquidationResult{}, errors.Wrapf(LiquidationRewardTooSmall, "received %d < %d", result.ReceivedLiquidityAmount, minAcceptableReceived)
	}

	if result.LtvAfter, err = risk.CheckPostLiquidationCondition(slot, now, lc.Reason, lc.NoBfLtv); err != nil {
		return LiquidationResult{}, err
	}
	return result, nil
}

// RequestElevationGroup moves a fresh obligation into group id; the
// obligation must stay within its max LTV under the new parameters.
func RequestElevationGroup(market *LendingMarket, obligation *Obligation, reserves ReserveMap, id uint8, slot uint64, now int64) error {
	if err := market.AssertNotEmergency(); err != nil {
		return err
	}
	if err := obligation.AssertFresh(slot); err != nil {
		return err
	}
	if err := obligation.RequestElevationGroup(market, reserves, id); err != nil {
		return err
	}
	return NewRiskEngine(market, obligation, reserves).CheckObligationHealth(slot, now, Initial)
}
