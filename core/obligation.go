package core

import (
	"context"
	"math"
	"slices"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/DomeLiquid/klend/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type (
	ObligationStore interface {
		CreateObligation(ctx context.Context, obligation *Obligation) error
		UpsertObligation(ctx context.Context, obligation *Obligation) error
		GetObligationById(ctx context.Context, id uuid.UUID) (*Obligation, error)
		ListObligationsByMarket(ctx context.Context, marketId uuid.UUID) ([]*Obligation, error)
	}

	Obligation struct {
		Id            uuid.UUID `json:"id"`
		LendingMarket uuid.UUID `json:"lendingMarket"`
		Owner         string    `json:"owner"`
		Referrer      string    `json:"referrer"`

		LastUpdate LastUpdate `json:"lastUpdate"`

		Deposits []ObligationCollateral `json:"deposits"`
		Borrows  []ObligationLiquidity  `json:"borrows"`

		ElevationGroup uint8 `json:"elevationGroup"`

		// Valuation caches, valid right after Refresh.
		DepositedValue                fraction.Fraction `json:"depositedValue"`
		BorrowedAssetsMarketValue     fraction.Fraction `json:"borrowedAssetsMarketValue"`
		BorrowFactorAdjustedDebtValue fraction.Fraction `json:"borrowFactorAdjustedDebtValue"`
		AllowedBorrowValue            fraction.Fraction `json:"allowedBorrowValue"`
		UnhealthyBorrowValue          fraction.Fraction `json:"unhealthyBorrowValue"`

		AutodeleverageTargetLtvPct        uint8 `json:"autodeleverageTargetLtvPct"`
		AutodeleverageMarginCallStartedTs int64 `json:"autodeleverageMarginCallStartedTs"`

		Order *ObligationOrder `json:"order,omitempty"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}

	ObligationCollateral struct {
		DepositReserve  uuid.UUID         `json:"depositReserve"`
		DepositedAmount uint64            `json:"depositedAmount"`
		MarketValue     fraction.Fraction `json:"marketValue"`
	}

	ObligationLiquidity struct {
		BorrowReserve                   uuid.UUID         `json:"borrowReserve"`
		CumulativeBorrowRate            fraction.Fraction `json:"cumulativeBorrowRate"`
		CumulativeHostFixedRate         fraction.Fraction `json:"cumulativeHostFixedRate"`
		BorrowedAmount                  fraction.Fraction `json:"borrowedAmount"`
		MarketValue                     fraction.Fraction `json:"marketValue"`
		BorrowFactorAdjustedMarketValue fraction.Fraction `json:"borrowFactorAdjustedMarketValue"`
	}
)

// ReserveMap resolves the reserves an obligation references by id.
type ReserveMap map[uuid.UUID]*Reserve

func (m ReserveMap) Get(id uuid.UUID) (*Reserve, error) {
	r, ok := m[id]
	if !ok {
		return nil, errors.Wrapf(InvalidReserve, "reserve %s", id)
	}
	return r, nil
}

func (m ReserveMap) Clone() ReserveMap {
	c := make(ReserveMap, len(m))
	for id, r := range m {
		c[id] = r.Clone()
	}
	return c
}

// ObligationId derives the id of the single obligation an owner holds in a
// lending market.
func ObligationId(lendingMarket uuid.UUID, owner string) uuid.UUID {
	return utils.DeriveId("obligation", lendingMarket.String(), owner)
}

func NewObligation(clk clock.Clock, lendingMarket uuid.UUID, owner, referrer string, slot uint64) *Obligation {
	now := clk.Now().Unix()
	o := &Obligation{
		Id:            ObligationId(lendingMarket, owner),
		LendingMarket: lendingMarket,
		Owner:         owner,
		Referrer:      referrer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.LastUpdate.Update(slot, now, PriceStatusAllSet)
	return o
}

func (o *Obligation) Clone() *Obligation {
	c := *o
	c.Deposits = slices.Clone(o.Deposits)
	c.Borrows = slices.Clone(o.Borrows)
	if o.Order != nil {
		order := *o.Order
		c.Order = &order
	}
	return &c
}

func (o *Obligation) HasReferrer() bool {
	return o.Referrer != ""
}

func (o *Obligation) IsClosable() bool {
	return len(o.Deposits) == 0 && len(o.Borrows) == 0
}

func (o *Obligation) AssertFresh(slot uint64) error {
	if o.LastUpdate.IsStale(slot) {
		return errors.Wrapf(StaleObligation, "obligation %s last refreshed at slot %d", o.Id, o.LastUpdate.Slot)
	}
	if !o.LastUpdate.IsPriceValid() {
		return errors.Wrapf(InvalidOracle, "obligation %s refreshed with invalid prices", o.Id)
	}
	return nil
}

func (o *Obligation) FindCollateral(reserveId uuid.UUID) int {
	return slices.IndexFunc(o.Deposits, func(c ObligationCollateral) bool { return c.DepositReserve == reserveId })
}

func (o *Obligation) FindLiquidity(reserveId uuid.UUID) int {
	return slices.IndexFunc(o.Borrows, func(l ObligationLiquidity) bool { return l.BorrowReserve == reserveId })
}

func (o *Obligation) inElevationGroup(reserve *Reserve) bool {
	return reserve.InElevationGroup(o.ElevationGroup)
}

func (o *Obligation) reserve(reserves ReserveMap, id uuid.UUID) (*Reserve, error) {
	r, err := reserves.Get(id)
	if err != nil {
		return nil, err
	}
	if r.LendingMarket != o.LendingMarket {
		return nil, errors.Wrapf(InvalidLendingMarket, "reserve %s", id)
	}
	return r, nil
}

// accrue brings the leg up to cumulativeBorrowRate and returns the interest
// added.
func (l *ObligationLiquidity) accrue(cumulativeBorrowRate fraction.Fraction) (fraction.Fraction, error) {
	if cumulativeBorrowRate.Lt(l.CumulativeBorrowRate) {
		return fraction.Zero, errors.Wrapf(IndexDecreased, "%s < %s", cumulativeBorrowRate, l.CumulativeBorrowRate)
	}
	if cumulativeBorrowRate.Eq(l.CumulativeBorrowRate) {
		return fraction.Zero, nil
	}
	scaled, err := l.BorrowedAmount.Mul(cumulativeBorrowRate)
	if err != nil {
		return fraction.Zero, err
	}
	borrowed, err := scaled.Div(l.CumulativeBorrowRate)
	if err != nil {
		return fraction.Zero, err
	}
	interest := borrowed.SaturatingSub(l.BorrowedAmount)
	l.BorrowedAmount = borrowed
	l.CumulativeBorrowRate = cumulativeBorrowRate
	return interest, nil
}

// accrueLiquidity syncs a debt leg with its reserve and routes the
// obligation's share of pending referrer fees. Only variable interest
// carries a referrer share; the host fixed part is split off with the
// host fixed index the same way the reserve does at accrual.
func (o *Obligation) accrueLiquidity(l *ObligationLiquidity, reserve *Reserve, referralFeeBps uint16) error {
	previous := l.BorrowedAmount
	interest, err := l.accrue(reserve.Liquidity.CumulativeBorrowRate)
	if err != nil {
		return err
	}
	hostIndex := reserve.Liquidity.HostFixedIndex()
	legIndex := l.CumulativeHostFixedRate
	if legIndex.IsZero() {
		legIndex = hostIndex
	}
	l.CumulativeHostFixedRate = hostIndex
	if interest.IsZero() || referralFeeBps == 0 {
		return nil
	}

	fixedDebt, err := previous.Mul(hostIndex)
	if err != nil {
		return err
	}
	if fixedDebt, err = fixedDebt.Div(legIndex); err != nil {
		return err
	}
	variable := interest.SaturatingSub(fixedDebt.SaturatingSub(previous))

	share, err := variable.Mul(fraction.FromPercent(uint64(reserve.Config.ProtocolTakeRatePct)))
	if err != nil {
		return err
	}
	if share, err = share.Mul(fraction.FromBps(uint64(referralFeeBps))); err != nil {
		return err
	}
	return reserve.RouteReferrerFees(share, o.HasReferrer())
}

// Refresh pro-rates interest on every debt leg and recomputes the valuation
// caches. Every referenced reserve must have been refreshed at slot.
func (o *Obligation) Refresh(market *LendingMarket, reserves ReserveMap, slot uint64, now int64) error {
	eg, err := market.GetElevationGroup(o.ElevationGroup)
	if err != nil {
		return err
	}
	priceStatus := PriceStatusAllSet

	deposited, allowed, unhealthy := fraction.Zero, fraction.Zero, fraction.Zero
	for i := range o.Deposits {
		d := &o.Deposits[i]
		reserve, err := o.reserve(reserves, d.DepositReserve)
		if err != nil {
			return err
		}
		if reserve.LastUpdate.IsStale(slot) {
			return errors.Wrapf(StaleReserve, "deposit reserve %s", reserve.Config.TokenInfo.Symbol)
		}
		priceStatus &= reserve.LastUpdate.PriceStatus

		rate, err := reserve.CollateralExchangeRate()
		if err != nil {
			return err
		}
		liquidity, err := rate.FractionCollateralToLiquidity(fraction.FromUint64(d.DepositedAmount))
		if err != nil {
			return err
		}
		if d.MarketValue, err = reserve.MarketValue(liquidity); err != nil {
			return err
		}
		if deposited, err = deposited.Add(d.MarketValue); err != nil {
			return err
		}

		allowedPart, err := d.MarketValue.Mul(fraction.FromPercent(uint64(Initial.ThresholdPct(reserve, eg))))
		if err != nil {
			return err
		}
		if allowed, err = allowed.Add(allowedPart); err != nil {
			return err
		}
		unhealthyPart, err := d.MarketValue.Mul(fraction.FromPercent(uint64(Maintenance.ThresholdPct(reserve, eg))))
		if err != nil {
			return err
		}
		if unhealthy, err = unhealthy.Add(unhealthyPart); err != nil {
			return err
		}
	}

	borrowed, adjusted := fraction.Zero, fraction.Zero
	for i := range o.Borrows {
		l := &o.Borrows[i]
		reserve, err := o.reserve(reserves, l.BorrowReserve)
		if err != nil {
			return err
		}
		if reserve.LastUpdate.IsStale(slot) {
			return errors.Wrapf(StaleReserve, "borrow reserve %s", reserve.Config.TokenInfo.Symbol)
		}
		priceStatus &= reserve.LastUpdate.PriceStatus

		if err := o.accrueLiquidity(l, reserve, market.ReferralFeeBps); err != nil {
			return err
		}
		if l.MarketValue, err = reserve.MarketValue(l.BorrowedAmount); err != nil {
			return err
		}
		if l.BorrowFactorAdjustedMarketValue, err = l.MarketValue.Mul(reserve.BorrowFactor(o.inElevationGroup(reserve))); err != nil {
			return err
		}
		if borrowed, err = borrowed.Add(l.MarketValue); err != nil {
			return err
		}
		if adjusted, err = adjusted.Add(l.BorrowFactorAdjustedMarketValue); err != nil {
			return err
		}
	}

	o.DepositedValue = deposited
	o.BorrowedAssetsMarketValue = borrowed
	o.BorrowFactorAdjustedDebtValue = adjusted
	o.AllowedBorrowValue = fraction.Min(allowed, fraction.FromUint64(market.GlobalAllowedBorrowValue))
	o.UnhealthyBorrowValue = fraction.Min(unhealthy, fraction.FromUint64(market.GlobalUnhealthyBorrowValue))
	o.LastUpdate.Update(slot, now, priceStatus)
	o.UpdatedAt = now
	return nil
}

func ratioOf(num, den fraction.Fraction) (fraction.Fraction, error) {
	if den.IsZero() {
		return fraction.Zero, nil
	}
	return num.Div(den)
}

// LoanToValue is the borrow-factor-adjusted debt over deposited value,
// 0 without deposits.
func (o *Obligation) LoanToValue() (fraction.Fraction, error) {
	return ratioOf(o.BorrowFactorAdjustedDebtValue, o.DepositedValue)
}

func (o *Obligation) NoBfLoanToValue() (fraction.Fraction, error) {
	return ratioOf(o.BorrowedAssetsMarketValue, o.DepositedValue)
}

func (o *Obligation) UnhealthyLoanToValue() (fraction.Fraction, error) {
	return ratioOf(o.UnhealthyBorrowValue, o.DepositedValue)
}

func (o *Obligation) MaxAllowedLoanToValue() (fraction.Fraction, error) {
	return ratioOf(o.AllowedBorrowValue, o.DepositedValue)
}

func (o *Obligation) IsUnhealthy() bool {
	return !o.BorrowFactorAdjustedDebtValue.IsZero() && o.BorrowFactorAdjustedDebtValue.Gte(o.UnhealthyBorrowValue)
}

// RemainingBorrowValue is the borrow-factor-adjusted value still borrowable.
func (o *Obligation) RemainingBorrowValue() fraction.Fraction {
	return o.AllowedBorrowValue.SaturatingSub(o.BorrowFactorAdjustedDebtValue)
}

func (o *Obligation) NetValue() fraction.Fraction {
	return o.DepositedValue.SaturatingSub(o.BorrowedAssetsMarketValue)
}

func (o *Obligation) thresholdValue(rt RequirementType) fraction.Fraction {
	switch rt {
	case Initial:
		return o.AllowedBorrowValue
	case Maintenance:
		return o.UnhealthyBorrowValue
	default:
		return o.DepositedValue
	}
}

// DepositCollateral adds collateral units of reserve to the obligation.
func (o *Obligation) DepositCollateral(market *LendingMarket, reserve *Reserve, collateralAmount uint64) error {
	if collateralAmount == 0 {
		return errors.Wrap(InvalidAmount, "collateral amount is zero")
	}
	if reserve.LendingMarket != o.LendingMarket {
		return errors.Wrapf(InvalidLendingMarket, "reserve %s", reserve.Id)
	}
	idx := o.FindCollateral(reserve.Id)
	if idx < 0 {
		if len(o.Deposits) >= MAX_OBLIGATION_DEPOSITS {
			return errors.Wrapf(ObligationReserveLimit, "%d deposits", len(o.Deposits))
		}
		eg, err := market.GetElevationGroup(o.ElevationGroup)
		if err != nil {
			return err
		}
		if eg != nil {
			if err := eg.CheckCollateral(reserve, len(o.Deposits)+1); err != nil {
				return err
			}
		}
		o.Deposits = append(o.Deposits, ObligationCollateral{DepositReserve: reserve.Id})
		idx = len(o.Deposits) - 1
	}
	d := &o.Deposits[idx]
	if d.DepositedAmount > math.MaxUint64-collateralAmount {
		return errors.Wrap(IntegerOverflow, "deposited amount")
	}
	d.DepositedAmount += collateralAmount
	o.LastUpdate.MarkStale()
	return nil
}

// WithdrawCollateral removes collateral units, dropping the entry once empty.
func (o *Obligation) WithdrawCollateral(reserveId uuid.UUID, collateralAmount uint64) error {
	idx := o.FindCollateral(reserveId)
	if idx < 0 {
		return errors.Wrapf(ObligationCollateralEmpty, "reserve %s", reserveId)
	}
	d := &o.Deposits[idx]
	if collateralAmount == 0 || collateralAmount > d.DepositedAmount {
		return errors.Wrapf(InvalidAmount, "withdraw %d of %d", collateralAmount, d.DepositedAmount)
	}
	if collateralAmount == d.DepositedAmount {
		o.Deposits = slices.Delete(o.Deposits, idx, idx+1)
	} else {
		d.DepositedAmount -= collateralAmount
	}
	o.LastUpdate.MarkStale()
	return nil
}

// AddBorrow records borrowAmount of new debt against reserve.
func (o *Obligation) AddBorrow(market *LendingMarket, reserve *Reserve, borrowAmount fraction.Fraction) error {
	if reserve.LendingMarket != o.LendingMarket {
		return errors.Wrapf(InvalidLendingMarket, "reserve %s", reserve.Id)
	}
	idx := o.FindLiquidity(reserve.Id)
	if idx < 0 {
		if len(o.Borrows) >= MAX_OBLIGATION_BORROWS {
			return errors.Wrapf(ObligationReserveLimit, "%d borrows", len(o.Borrows))
		}
		eg, err := market.GetElevationGroup(o.ElevationGroup)
		if err != nil {
			return err
		}
		if eg != nil {
			if err := eg.CheckDebt(reserve); err != nil {
				return err
			}
		}
		o.Borrows = append(o.Borrows, ObligationLiquidity{
			BorrowReserve:           reserve.Id,
			CumulativeBorrowRate:    reserve.Liquidity.CumulativeBorrowRate,
			CumulativeHostFixedRate: reserve.Liquidity.HostFixedIndex(),
		})
		idx = len(o.Borrows) - 1
	}
	l := &o.Borrows[idx]
	if err := o.accrueLiquidity(l, reserve, market.ReferralFeeBps); err != nil {
		return err
	}
	borrowed, err := l.BorrowedAmount.Add(borrowAmount)
	if err != nil {
		return err
	}
	l.BorrowedAmount = borrowed
	o.LastUpdate.MarkStale()
	return nil
}

// RepayLiquidity removes settleAmount of debt from the leg, dropping the leg
// once it is fully settled.
func (o *Obligation) RepayLiquidity(reserveId uuid.UUID, settleAmount fraction.Fraction) error {
	idx := o.FindLiquidity(reserveId)
	if idx < 0 {
		return errors.Wrapf(ObligationLiquidityEmpty, "reserve %s", reserveId)
	}
	l := &o.Borrows[idx]
	if settleAmount.Gt(l.BorrowedAmount) {
		return errors.Wrapf(InvalidAmount, "settle %s > borrowed %s", settleAmount, l.BorrowedAmount)
	}
	l.BorrowedAmount = l.BorrowedAmount.SaturatingSub(settleAmount)
	if l.BorrowedAmount.IsZero() {
		o.Borrows = slices.Delete(o.Borrows, idx, idx+1)
	}
	o.LastUpdate.MarkStale()
	return nil
}

// MaxWithdrawAmount is the collateral of reserve that can be withdrawn while
// the debt stays within the rt threshold.
func (o *Obligation) MaxWithdrawAmount(market *LendingMarket, reserve *Reserve, rt RequirementType) (uint64, error) {
	idx := o.FindCollateral(reserve.Id)
	if idx < 0 {
		return 0, nil
	}
	d := o.Deposits[idx]
	if len(o.Borrows) == 0 || o.BorrowFactorAdjustedDebtValue.IsZero() {
		return d.DepositedAmount, nil
	}
	eg, err := market.GetElevationGroup(o.ElevationGroup)
	if err != nil {
		return 0, err
	}
	pct := rt.ThresholdPct(reserve, eg)
	if pct == 0 {
		return d.DepositedAmount, nil
	}
	threshold := o.thresholdValue(rt)
	if threshold.Lte(o.BorrowFactorAdjustedDebtValue) {
		return 0, nil
	}
	maxValue, err := threshold.SaturatingSub(o.BorrowFactorAdjustedDebtValue).Div(fraction.FromPercent(uint64(pct)))
	if err != nil {
		return 0, err
	}
	if maxValue.Gte(d.MarketValue) {
		return d.DepositedAmount, nil
	}
	units, err := fraction.FromUint64(d.DepositedAmount).Mul(maxValue)
	if err != nil {
		return 0, err
	}
	if units, err = units.Div(d.MarketValue); err != nil {
		return 0, err
	}
	return units.ToFloor()
}

// MaxBorrowAmount is the largest debt in reserve units the obligation can
// take on, bounded by its remaining capacity and the reserve limits.
func (o *Obligation) MaxBorrowAmount(market *LendingMarket, reserve *Reserve) (uint64, error) {
	if market.BorrowDisabled || reserve.Config.BorrowLimit == 0 {
		return 0, nil
	}
	inEG := o.inElevationGroup(reserve)
	amount, err := reserve.AmountForValue(o.RemainingBorrowValue())
	if err != nil {
		return 0, err
	}
	if amount, err = amount.Div(reserve.BorrowFactor(inEG)); err != nil {
		return 0, err
	}
	amount = fraction.Min(amount, reserve.RemainingBorrowCapacity(inEG))
	amount = fraction.Min(amount, fraction.FromUint64(reserve.Liquidity.AvailableAmount))
	return amount.ToFloor()
}

// RequestElevationGroup moves the obligation into group id, or out of any
// group with ELEVATION_GROUP_NONE. Reserve tallies of debt borrowed outside
// elevation groups follow the move.
func (o *Obligation) RequestElevationGroup(market *LendingMarket, reserves ReserveMap, id uint8) error {
	if id == o.ElevationGroup {
		return nil
	}
	eg, err := market.GetElevationGroup(id)
	if err != nil {
		return err
	}
	if eg != nil {
		for _, d := range o.Deposits {
			reserve, err := o.reserve(reserves, d.DepositReserve)
			if err != nil {
				return err
			}
			if err := eg.CheckCollateral(reserve, len(o.Deposits)); err != nil {
				return err
			}
		}
		for _, l := range o.Borrows {
			reserve, err := o.reserve(reserves, l.BorrowReserve)
			if err != nil {
				return err
			}
			if err := eg.CheckDebt(reserve); err != nil {
				return err
			}
		}
	}
	for _, l := range o.Borrows {
		reserve, err := o.reserve(reserves, l.BorrowReserve)
		if err != nil {
			return err
		}
		wasIn := o.inElevationGroup(reserve)
		isIn := reserve.InElevationGroup(id)
		if wasIn == isIn {
			continue
		}
		units, err := l.BorrowedAmount.ToCeil()
		if err != nil {
			return err
		}
		if err := reserve.MoveBorrowedOutsideElevationGroups(units, !isIn); err != nil {
			return err
		}
	}
	o.ElevationGroup = id
	o.LastUpdate.MarkStale()
	return nil
}

func (o *Obligation) MarkForDeleveraging(targetLtvPct uint8, now int64) error {
	if targetLtvPct >= 100 {
		return errors.Wrapf(InvalidConfig, "target ltv %d%%", targetLtvPct)
	}
	o.AutodeleverageTargetLtvPct = targetLtvPct
	o.AutodeleverageMarginCallStartedTs = now
	return nil
}

func (o *Obligation) IsMarkedForDeleveraging() bool {
	return o.AutodeleverageMarginCallStartedTs != 0
}

func (o *Obligation) ClearDeleveraging() {
	o.AutodeleverageTargetLtvPct = 0
	o.AutodeleverageMarginCallStartedTs = 0
}

// SetOrder replaces the obligation order; nil cancels it.
func (o *Obligation) SetOrder(order *ObligationOrder) error {
	if order != nil {
		if err := order.Validate(); err != nil {
			return err
		}
	}
	o.Order = order
	return nil
}
