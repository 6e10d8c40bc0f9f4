package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
)

type FeeCalculation uint8

const (
	// FeeExclusive adds the fee on top of the amount.
	FeeExclusive FeeCalculation = iota
	// FeeInclusive carves the fee out of the amount.
	FeeInclusive
)

func (fc FeeCalculation) String() string {
	switch fc {
	case FeeExclusive:
		return "Exclusive"
	case FeeInclusive:
		return "Inclusive"
	default:
		return "Unknown"
	}
}

// CalculateBorrowFees returns the protocol and referrer parts of the borrow
// origination fee on amount. Any owed fee is at least one unit per receiver.
func (f ReserveFees) CalculateBorrowFees(amount fraction.Fraction, calc FeeCalculation, referralFeeBps uint16, hasReferrer bool) (uint64, uint64, error) {
	if f.BorrowFeeBps == 0 || amount.IsZero() {
		return 0, 0, nil
	}
	assessReferral := referralFeeBps > 0 && hasReferrer

	minimumFee := fraction.One
	if assessReferral {
		minimumFee = fraction.FromUint64(2)
	}

	var denominator uint64
	switch calc {
	case FeeExclusive:
		denominator = FULL_BPS
	case FeeInclusive:
		denominator = FULL_BPS + f.BorrowFeeBps
	default:
		return 0, 0, errors.Wrapf(InvalidConfig, "unknown fee calculation %d", calc)
	}
	fee, err := amount.MulUint64(f.BorrowFeeBps)
	if err != nil {
		return 0, 0, err
	}
	if fee, err = fee.DivUint64(denominator); err != nil {
		return 0, 0, err
	}

	fee = fraction.MaxOf(fee, minimumFee)
	if fee.Gte(amount) {
		return 0, 0, errors.Wrapf(BorrowTooSmall, "fee %s >= amount %s", fee, amount)
	}

	borrowFee, err := fee.ToRound()
	if err != nil {
		return 0, 0, err
	}

	var referrerFee uint64
	if assessReferral {
		referrerFee = borrowFee
		if referralFeeBps < FULL_BPS {
			referrerFee = borrowFee / FULL_BPS * uint64(referralFeeBps)
			referrerFee += borrowFee % FULL_BPS * uint64(referralFeeBps) / FULL_BPS
		}
	}
	return borrowFee - referrerFee, referrerFee, nil
}

// ProtocolLiquidationFee is the protocol share of the liquidation bonus
// contained in the withdrawn liquidity amount.
func (r *Reserve) ProtocolLiquidationFee(withdrawAmount uint64, bonusRate fraction.Fraction) (uint64, error) {
	feePct := r.Config.ProtocolLiquidationFeePct
	if feePct == 0 || withdrawAmount == 0 {
		return 0, nil
	}
	amount := fraction.FromUint64(withdrawAmount)
	onePlusBonus, err := fraction.One.Add(bonusRate)
	if err != nil {
		return 0, err
	}
	withoutBonus, err := amount.Div(onePlusBonus)
	if err != nil {
		return 0, err
	}
	bonus := amount.SaturatingSub(withoutBonus)
	feeF, err := bonus.Mul(fraction.FromPercent(uint64(feePct)))
	if err != nil {
		return 0, err
	}
	fee, err := feeF.ToCeil()
	if err != nil {
		return 0, err
	}
	return max(fee, 1), nil
}
