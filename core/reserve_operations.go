package core

import (
	"math"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
)

type CalculateBorrowResult struct {
	BorrowAmount  fraction.Fraction `json:"borrowAmount"`
	ReceiveAmount uint64            `json:"receiveAmount"`
	BorrowFee     uint64            `json:"borrowFee"`
	ReferrerFee   uint64            `json:"referrerFee"`
}

// Deposit mints collateral for liquidityAmount. The liquidity actually taken
// is the ceil-rounded backing of the minted collateral, never more than
// offered.
func (r *Reserve) Deposit(liquidityAmount uint64, now uint64) (uint64, uint64, error) {
	if err := r.AssertOperational(true); err != nil {
		return 0, 0, err
	}
	if liquidityAmount == 0 {
		return 0, 0, errors.Wrap(InvalidAmount, "deposit amount is zero")
	}
	rate, err := r.CollateralExchangeRate()
	if err != nil {
		return 0, 0, err
	}
	collateral, err := rate.LiquidityToCollateral(liquidityAmount)
	if err != nil {
		return 0, 0, err
	}
	if collateral == 0 {
		return 0, 0, errors.Wrapf(InvalidAmount, "deposit of %d mints no collateral", liquidityAmount)
	}
	liquidity, err := rate.CollateralToLiquidityCeil(collateral)
	if err != nil {
		return 0, 0, err
	}
	if liquidity > liquidityAmount {
		return 0, 0, errors.Wrapf(MathOverflow, "deposit requires %d > offered %d", liquidity, liquidityAmount)
	}

	total, err := r.TotalSupply()
	if err != nil {
		return 0, 0, err
	}
	if total, err = total.Add(fraction.FromUint64(liquidity)); err != nil {
		return 0, 0, err
	}
	if total.Gt(fraction.FromUint64(r.Config.DepositLimit)) {
		return 0, 0, errors.Wrapf(DepositCapExceeded, "supply %s > limit %d", total, r.Config.DepositLimit)
	}
	if r.Liquidity.AvailableAmount > math.MaxUint64-liquidity || r.Collateral.MintTotalSupply > math.MaxUint64-collateral {
		return 0, 0, errors.Wrap(IntegerOverflow, "reserve supply")
	}
	if err := r.Config.DepositWithdrawalCap.Sub(liquidity, now); err != nil {
		return 0, 0, err
	}

	r.Liquidity.AvailableAmount += liquidity
	r.Collateral.MintTotalSupply += collateral
	return collateral, liquidity, nil
}

// Redeem burns collateral and pays out the floor-rounded liquidity.
func (r *Reserve) Redeem(collateralAmount uint64, now uint64) (uint64, error) {
	return r.redeem(collateralAmount, now, true)
}

// redeem skips the deposit withdrawal cap when checkCap is false.
func (r *Reserve) redeem(collateralAmount uint64, now uint64, checkCap bool) (uint64, error) {
	if err := r.AssertOperational(false); err != nil {
		return 0, err
	}
	if collateralAmount == 0 || collateralAmount > r.Collateral.MintTotalSupply {
		return 0, errors.Wrapf(InvalidAmount, "redeem %d of %d", collateralAmount, r.Collateral.MintTotalSupply)
	}
	rate, err := r.CollateralExchangeRate()
	if err != nil {
		return 0, err
	}
	liquidity, err := rate.CollateralToLiquidity(collateralAmount)
	if err != nil {
		return 0, err
	}
	if liquidity == 0 {
		return 0, errors.Wrapf(InvalidAmount, "redeem of %d pays nothing", collateralAmount)
	}
	if liquidity > r.Liquidity.AvailableAmount {
		return 0, errors.Wrapf(InsufficientLiquidity, "redeem %d > available %d", liquidity, r.Liquidity.AvailableAmount)
	}
	if checkCap {
		if err := r.Config.DepositWithdrawalCap.Add(liquidity, now); err != nil {
			return 0, err
		}
	}

	r.Liquidity.AvailableAmount -= liquidity
	r.Collateral.MintTotalSupply -= collateralAmount
	return liquidity, nil
}

// CalculateBorrow sizes a borrow. U64_MAX borrows as much as the obligation
// capacity, the reserve limits and the available liquidity allow, with fees
// taken out of the amount; any other amount is the amount received, with
// fees added on top.
func (r *Reserve) CalculateBorrow(amountToBorrow uint64, maxBorrowFactorAdjustedDebtValue, remainingReserveCapacity fraction.Fraction, referralFeeBps uint16, inElevationGroup, hasReferrer bool) (CalculateBorrowResult, error) {
	if amountToBorrow == 0 {
		return CalculateBorrowResult{}, errors.Wrap(InvalidAmount, "borrow amount is zero")
	}
	borrowFactor := r.BorrowFactor(inElevationGroup)

	if amountToBorrow == U64_MAX {
		maxAmount, err := r.AmountForValue(maxBorrowFactorAdjustedDebtValue)
		if err != nil {
			return CalculateBorrowResult{}, err
		}
		if maxAmount, err = maxAmount.Div(borrowFactor); err != nil {
			return CalculateBorrowResult{}, err
		}
		maxAmount = fraction.Min(maxAmount, remainingReserveCapacity)
		maxAmount = fraction.Min(maxAmount, fraction.FromUint64(r.Liquidity.AvailableAmount))

		borrowAmount, err := maxAmount.ToFloor()
		if err != nil {
			return CalculateBorrowResult{}, err
		}
		if borrowAmount == 0 {
			return CalculateBorrowResult{}, errors.Wrap(BorrowTooSmall, "no borrow capacity")
		}
		borrowFee, referrerFee, err := r.Config.Fees.CalculateBorrowFees(fraction.FromUint64(borrowAmount), FeeInclusive, referralFeeBps, hasReferrer)
		if err != nil {
			return CalculateBorrowResult{}, err
		}
		receive := borrowAmount - borrowFee - referrerFee
		if receive == 0 {
			return CalculateBorrowResult{}, errors.Wrap(BorrowTooSmall, "fees consume the whole borrow")
		}
		return CalculateBorrowResult{
			BorrowAmount:  fraction.FromUint64(borrowAmount),
			ReceiveAmount: receive,
			BorrowFee:     borrowFee,
			ReferrerFee:   referrerFee,
		}, nil
	}

	borrowAmount := fraction.FromUint64(amountToBorrow)
	borrowFee, referrerFee, err := r.Config.Fees.CalculateBorrowFees(borrowAmount, FeeExclusive, referralFeeBps, hasReferrer)
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	if borrowAmount, err = borrowAmount.Add(fraction.FromUint64(borrowFee)); err != nil {
		return CalculateBorrowResult{}, err
	}
	if borrowAmount, err = borrowAmount.Add(fraction.FromUint64(referrerFee)); err != nil {
		return CalculateBorrowResult{}, err
	}

	value, err := r.MarketValue(borrowAmount)
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	adjusted, err := value.Mul(borrowFactor)
	if err != nil {
		return CalculateBorrowResult{}, err
	}
	if adjusted.Gt(maxBorrowFactorAdjustedDebtValue) {
		return CalculateBorrowResult{}, errors.Wrapf(BorrowTooLarge, "adjusted value %s > remaining %s", adjusted, maxBorrowFactorAdjustedDebtValue)
	}
	if borrowAmount.Gt(remainingReserveCapacity) {
		return CalculateBorrowResult{}, errors.Wrapf(BorrowLimitExceeded, "borrow %s > remaining reserve capacity %s", borrowAmount, remainingReserveCapacity)
	}
	return CalculateBorrowResult{
		BorrowAmount:  borrowAmount,
		ReceiveAmount: amountToBorrow,
		BorrowFee:     borrowFee,
		ReferrerFee:   referrerFee,
	}, nil
}

// Borrow applies a sized borrow. Only the receive amount leaves the
// reserve; the protocol and referrer fees stay as accumulated fees until
// withdrawn.
func (r *Reserve) Borrow(result CalculateBorrowResult, inElevationGroup bool, now uint64) error {
	if err := r.AssertOperational(true); err != nil {
		return err
	}
	if r.Config.BorrowLimit == 0 {
		return errors.Wrapf(BorrowingDisabled, "reserve %s", r.Config.TokenInfo.Symbol)
	}
	if result.ReceiveAmount > r.Liquidity.AvailableAmount {
		return errors.Wrapf(InsufficientLiquidity, "borrow %d > available %d", result.ReceiveAmount, r.Liquidity.AvailableAmount)
	}
	borrowUnits, err := result.BorrowAmount.ToCeil()
	if err != nil {
		return err
	}

	borrowed, err := r.Liquidity.BorrowedAmount.Add(result.BorrowAmount)
	if err != nil {
		return err
	}
	if r.Config.BorrowLimit != math.MaxUint64 && borrowed.Gt(fraction.FromUint64(r.Config.BorrowLimit)) {
		return errors.Wrapf(BorrowLimitExceeded, "borrowed %s > limit %d", borrowed, r.Config.BorrowLimit)
	}
	outside := r.Liquidity.BorrowedAmountOutsideElevationGroups
	if !inElevationGroup {
		if outside > math.MaxUint64-borrowUnits {
			return errors.Wrap(IntegerOverflow, "borrowed outside elevation groups")
		}
		outside += borrowUnits
		if r.Config.BorrowLimitOutsideElevationGroup != math.MaxUint64 && outside > r.Config.BorrowLimitOutsideElevationGroup {
			return errors.Wrapf(BorrowLimitExceeded, "borrowed outside elevation groups %d > limit %d", outside, r.Config.BorrowLimitOutsideElevationGroup)
		}
	}
	protocolFees, err := r.Liquidity.AccumulatedProtocolFees.Add(fraction.FromUint64(result.BorrowFee))
	if err != nil {
		return err
	}
	referrerFees, err := r.Liquidity.AccumulatedReferrerFees.Add(fraction.FromUint64(result.ReferrerFee))
	if err != nil {
		return err
	}
	if err := r.Config.DebtWithdrawalCap.Add(borrowUnits, now); err != nil {
		return err
	}

	r.Liquidity.AvailableAmount -= result.ReceiveAmount
	r.Liquidity.BorrowedAmount = borrowed
	r.Liquidity.BorrowedAmountOutsideElevationGroups = outside
	r.Liquidity.AccumulatedProtocolFees = protocolFees
	r.Liquidity.AccumulatedReferrerFees = referrerFees
	return nil
}

// CalculateRepay returns the debt settled and the integer amount owed for a
// repay request against a debt leg. U64_MAX settles the whole leg.
func CalculateRepay(amountToRepay uint64, borrowedAmount fraction.Fraction) (fraction.Fraction, uint64, error) {
	if amountToRepay == 0 {
		return fraction.Zero, 0, errors.Wrap(InvalidAmount, "repay amount is zero")
	}
	settle := borrowedAmount
	if amountToRepay != U64_MAX {
		settle = fraction.Min(fraction.FromUint64(amountToRepay), borrowedAmount)
	}
	repay, err := settle.ToCeil()
	if err != nil {
		return fraction.Zero, 0, err
	}
	if repay == 0 {
		return fraction.Zero, 0, errors.Wrap(RepayTooSmall, "nothing to repay")
	}
	return settle, repay, nil
}

// Repay receives repayAmount and removes settleAmount of debt. A settle
// larger than the repayment socializes the difference across depositors.
func (r *Reserve) Repay(repayAmount uint64, settleAmount fraction.Fraction, inElevationGroup bool, now uint64) error {
	if r.Liquidity.AvailableAmount > math.MaxUint64-repayAmount {
		return errors.Wrap(IntegerOverflow, "available amount")
	}
	if err := r.Config.DebtWithdrawalCap.Sub(repayAmount, now); err != nil {
		return err
	}
	r.Liquidity.AvailableAmount += repayAmount
	r.Liquidity.BorrowedAmount = r.Liquidity.BorrowedAmount.SaturatingSub(settleAmount)
	if !inElevationGroup {
		settled, err := settleAmount.ToCeil()
		if err != nil {
			return err
		}
		if settled > r.Liquidity.BorrowedAmountOutsideElevationGroups {
			settled = r.Liquidity.BorrowedAmountOutsideElevationGroups
		}
		r.Liquidity.BorrowedAmountOutsideElevationGroups -= settled
	}
	return nil
}

// RouteReferrerFees moves an obligation's share of pending referrer fees to
// the referrer, or back to the protocol when there is no referrer.
func (r *Reserve) RouteReferrerFees(share fraction.Fraction, hasReferrer bool) error {
	share = fraction.Min(share, r.Liquidity.PendingReferrerFees)
	if share.IsZero() {
		return nil
	}
	r.Liquidity.PendingReferrerFees = r.Liquidity.PendingReferrerFees.SaturatingSub(share)
	var err error
	if hasReferrer {
		r.Liquidity.AccumulatedReferrerFees, err = r.Liquidity.AccumulatedReferrerFees.Add(share)
	} else {
		r.Liquidity.AccumulatedProtocolFees, err = r.Liquidity.AccumulatedProtocolFees.Add(share)
	}
	return err
}

// CollectProtocolLiquidationFee keeps fee of redeemed liquidity in the
// reserve as protocol fees.
func (r *Reserve) CollectProtocolLiquidationFee(fee uint64) error {
	if fee == 0 {
		return nil
	}
	if r.Liquidity.AvailableAmount > math.MaxUint64-fee {
		return errors.Wrap(IntegerOverflow, "available amount")
	}
	fees, err := r.Liquidity.AccumulatedProtocolFees.Add(fraction.FromUint64(fee))
	if err != nil {
		return err
	}
	r.Liquidity.AvailableAmount += fee
	r.Liquidity.AccumulatedProtocolFees = fees
	return nil
}

// MoveBorrowedOutsideElevationGroups adjusts the tally of debt borrowed
// outside elevation groups when an obligation leaves (leaving=true) or
// enters a group.
func (r *Reserve) MoveBorrowedOutsideElevationGroups(units uint64, leaving bool) error {
	outside := r.Liquidity.BorrowedAmountOutsideElevationGroups
	if !leaving {
		r.Liquidity.BorrowedAmountOutsideElevationGroups = outside - min(units, outside)
		return nil
	}
	if outside > math.MaxUint64-units {
		return errors.Wrap(IntegerOverflow, "borrowed outside elevation groups")
	}
	outside += units
	if r.Config.BorrowLimitOutsideElevationGroup != math.MaxUint64 && outside > r.Config.BorrowLimitOutsideElevationGroup {
		return errors.Wrapf(BorrowLimitExceeded, "borrowed outside elevation groups %d > limit %d", outside, r.Config.BorrowLimitOutsideElevationGroup)
	}
	r.Liquidity.BorrowedAmountOutsideElevationGroups = outside
	return nil
}

func (r *Reserve) WithdrawProtocolFees(amount uint64) (uint64, error) {
	return withdrawFees(&r.Liquidity.AccumulatedProtocolFees, &r.Liquidity.AvailableAmount, amount)
}

func (r *Reserve) WithdrawReferrerFees(amount uint64) (uint64, error) {
	return withdrawFees(&r.Liquidity.AccumulatedReferrerFees, &r.Liquidity.AvailableAmount, amount)
}

func withdrawFees(fees *fraction.Fraction, available *uint64, amount uint64) (uint64, error) {
	accumulated, err := fees.ToFloor()
	if err != nil {
		return 0, err
	}
	amount = min(amount, accumulated, *available)
	if amount == 0 {
		return 0, errors.Wrap(InvalidAmount, "no fees to withdraw")
	}
	*fees = fees.SaturatingSub(fraction.FromUint64(amount))
	*available -= amount
	return amount, nil
}
