package core

import (
	"github.com/DomeLiquid/klend/fraction"
)

// AccrueInterest compounds the reserve debt up to currentSlot and splits the
// new interest between the host fixed fee, the protocol take and the pending
// referrer share. It is a no-op when no slots have elapsed.
func (r *Reserve) AccrueInterest(log Log, currentSlot uint64, referralFeeBps uint16) error {
	elapsed, err := r.LastUpdate.SlotsElapsed(currentSlot)
	if err != nil {
		return err
	}
	if elapsed == 0 {
		return nil
	}

	borrowRate, err := r.CurrentBorrowRate()
	if err != nil {
		return err
	}
	hostFixedRate := fraction.FromBps(uint64(r.Config.HostFixedInterestRateBps))
	protocolTakeRate := fraction.FromPercent(uint64(r.Config.ProtocolTakeRatePct))
	referralRate := fraction.FromBps(uint64(referralFeeBps))

	before := r.Liquidity.BorrowedAmount
	if err := r.Liquidity.compoundInterest(borrowRate, hostFixedRate, elapsed, protocolTakeRate, referralRate); err != nil {
		return err
	}
	if log != nil {
		log.Debug().Msgf("reserve %s accrued %d slots at %s: borrowed %s -> %s",
			r.Config.TokenInfo.Symbol, elapsed, borrowRate, before, r.Liquidity.BorrowedAmount)
	}
	return nil
}

// HostFixedIndex is the compounded host fixed rate since the reserve
// opened. Debt legs snapshot it to tell host interest apart from variable
// interest.
func (l *ReserveLiquidity) HostFixedIndex() fraction.Fraction {
	if l.CumulativeHostFixedRate.IsZero() {
		return fraction.One
	}
	return l.CumulativeHostFixedRate
}

func (l *ReserveLiquidity) compoundInterest(borrowRate, hostFixedRate fraction.Fraction, elapsed uint64, protocolTakeRate, referralRate fraction.Fraction) error {
	totalRate, err := borrowRate.Add(hostFixedRate)
	if err != nil {
		return err
	}
	compounded, err := ApproximateCompoundedInterest(totalRate, elapsed)
	if err != nil {
		return err
	}
	compoundedFixed, err := ApproximateCompoundedInterest(hostFixedRate, elapsed)
	if err != nil {
		return err
	}

	previousDebt := l.BorrowedAmount
	newDebt, err := previousDebt.Mul(compounded)
	if err != nil {
		return err
	}
	fixedDebt, err := previousDebt.Mul(compoundedFixed)
	if err != nil {
		return err
	}
	fixedHostFee := fixedDebt.SaturatingSub(previousDebt)
	netNewDebt := newDebt.SaturatingSub(previousDebt)
	variableInterest := netNewDebt.SaturatingSub(fixedHostFee)

	variableProtocolFee, err := variableInterest.Mul(protocolTakeRate)
	if err != nil {
		return err
	}
	maxReferrerFees, err := variableProtocolFee.Mul(referralRate)
	if err != nil {
		return err
	}

	protocolFees, err := fixedHostFee.Add(variableProtocolFee)
	if err != nil {
		return err
	}
	protocolFees = protocolFees.SaturatingSub(maxReferrerFees)

	if l.AccumulatedProtocolFees, err = l.AccumulatedProtocolFees.Add(protocolFees); err != nil {
		return err
	}
	if l.PendingReferrerFees, err = l.PendingReferrerFees.Add(maxReferrerFees); err != nil {
		return err
	}
	if l.CumulativeBorrowRate, err = l.CumulativeBorrowRate.Mul(compounded); err != nil {
		return err
	}
	if l.CumulativeHostFixedRate, err = l.HostFixedIndex().Mul(compoundedFixed); err != nil {
		return err
	}
	l.BorrowedAmount = newDebt
	return nil
}

// ApproximateCompoundedInterest returns (1 + rate/SLOTS_PER_YEAR)^elapsed. Up
// to four periods it is exact; beyond that it uses the first four terms of
// the binomial expansion.
func ApproximateCompoundedInterest(rate fraction.Fraction, elapsed uint64) (fraction.Fraction, error) {
	base, err := rate.DivUint64(SLOTS_PER_YEAR)
	if err != nil {
		return fraction.Zero, err
	}

	if elapsed <= 4 {
		onePlusBase, err := fraction.One.Add(base)
		if err != nil {
			return fraction.Zero, err
		}
		return onePlusBase.Pow(elapsed)
	}

	basePow2, err := base.Mul(base)
	if err != nil {
		return fraction.Zero, err
	}
	basePow3, err := basePow2.Mul(base)
	if err != nil {
		return fraction.Zero, err
	}

	first, err := base.MulUint64(elapsed)
	if err != nil {
		return fraction.Zero, err
	}
	second, err := mulTerms(basePow2, 2, elapsed, elapsed-1)
	if err != nil {
		return fraction.Zero, err
	}
	third, err := mulTerms(basePow3, 6, elapsed, elapsed-1, elapsed-2)
	if err != nil {
		return fraction.Zero, err
	}

	result := fraction.One
	for _, term := range []fraction.Fraction{first, second, third} {
		if result, err = result.Add(term); err != nil {
			return fraction.Zero, err
		}
	}
	return result, nil
}

func mulTerms(f fraction.Fraction, divisor uint64, factors ...uint64) (fraction.Fraction, error) {
	var err error
	for _, n := range factors {
		if f, err = f.MulUint64(n); err != nil {
			return fraction.Zero, err
		}
	}
	return f.DivUint64(divisor)
}

// BorrowAPR is the current annual borrow rate including the host fixed rate.
func (r *Reserve) BorrowAPR() (fraction.Fraction, error) {
	rate, err := r.CurrentBorrowRate()
	if err != nil {
		return fraction.Zero, err
	}
	return rate.Add(fraction.FromBps(uint64(r.Config.HostFixedInterestRateBps)))
}

// SupplyAPR is the annual rate earned by depositors after the protocol take.
func (r *Reserve) SupplyAPR() (fraction.Fraction, error) {
	rate, err := r.CurrentBorrowRate()
	if err != nil {
		return fraction.Zero, err
	}
	u, err := r.UtilizationRate()
	if err != nil {
		return fraction.Zero, err
	}
	gross, err := rate.Mul(u)
	if err != nil {
		return fraction.Zero, err
	}
	return gross.Mul(fraction.One.SaturatingSub(fraction.FromPercent(uint64(r.Config.ProtocolTakeRatePct))))
}
