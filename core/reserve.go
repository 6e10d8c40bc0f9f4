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
	ReserveStore interface {
		CreateReserve(ctx context.Context, reserve *Reserve) error
		UpsertReserve(ctx context.Context, reserve *Reserve) error
		GetReserveById(ctx context.Context, reserveId uuid.UUID) (*Reserve, error)
		ListReservesByMarket(ctx context.Context, marketId uuid.UUID) ([]*Reserve, error)
	}

	Reserve struct {
		Id            uuid.UUID `json:"id"`
		LendingMarket uuid.UUID `json:"lendingMarket"`

		LastUpdate LastUpdate        `json:"lastUpdate"`
		Liquidity  ReserveLiquidity  `json:"liquidity"`
		Collateral ReserveCollateral `json:"collateral"`
		Config     ReserveConfig     `json:"config"`

		CreatedAt int64 `json:"createdAt"`
	}

	ReserveLiquidity struct {
		MintDecimals    uint8             `json:"mintDecimals"`
		AvailableAmount uint64            `json:"availableAmount"`
		BorrowedAmount  fraction.Fraction `json:"borrowedAmount"`

		CumulativeBorrowRate    fraction.Fraction `json:"cumulativeBorrowRate"`
		CumulativeHostFixedRate fraction.Fraction `json:"cumulativeHostFixedRate"`

		AccumulatedProtocolFees fraction.Fraction `json:"accumulatedProtocolFees"`
		AccumulatedReferrerFees fraction.Fraction `json:"accumulatedReferrerFees"`
		PendingReferrerFees     fraction.Fraction `json:"pendingReferrerFees"`

		MarketPrice              fraction.Fraction `json:"marketPrice"`
		MarketPriceLastUpdatedTs int64             `json:"marketPriceLastUpdatedTs"`

		BorrowedAmountOutsideElevationGroups uint64 `json:"borrowedAmountOutsideElevationGroups"`
	}

	ReserveCollateral struct {
		MintTotalSupply uint64 `json:"mintTotalSupply"`
	}

	ReserveConfig struct {
		Status ReserveStatus `json:"status"`

		LoanToValuePct          uint8 `json:"loanToValuePct"`
		LiquidationThresholdPct uint8 `json:"liquidationThresholdPct"`

		MinLiquidationBonusBps     uint16 `json:"minLiquidationBonusBps"`
		MaxLiquidationBonusBps     uint16 `json:"maxLiquidationBonusBps"`
		BadDebtLiquidationBonusBps uint16 `json:"badDebtLiquidationBonusBps"`

		ProtocolTakeRatePct       uint8  `json:"protocolTakeRatePct"`
		ProtocolLiquidationFeePct uint8  `json:"protocolLiquidationFeePct"`
		HostFixedInterestRateBps  uint16 `json:"hostFixedInterestRateBps"`
		BorrowFactorPct           uint64 `json:"borrowFactorPct"`

		Fees ReserveFees `json:"fees"`

		DepositLimit                     uint64 `json:"depositLimit"`
		BorrowLimit                      uint64 `json:"borrowLimit"`
		BorrowLimitOutsideElevationGroup uint64 `json:"borrowLimitOutsideElevationGroup"`

		BorrowRateCurve BorrowRateCurve `json:"borrowRateCurve"`
		TokenInfo       TokenInfo       `json:"tokenInfo"`

		DepositWithdrawalCap WithdrawalCaps `json:"depositWithdrawalCap"`
		DebtWithdrawalCap    WithdrawalCaps `json:"debtWithdrawalCap"`

		ElevationGroups                []uint8 `json:"elevationGroups"`
		DisableUsageAsCollOutsideEmode bool    `json:"disableUsageAsCollOutsideEmode"`

		// Market-wide deleveraging: once started, positions touching this
		// reserve become liquidatable after the margin call period.
		DeleveragingMarginCallPeriodSecs   uint64 `json:"deleveragingMarginCallPeriodSecs"`
		DeleveragingMarginCallStartedTs    int64  `json:"deleveragingMarginCallStartedTs"`
		DeleveragingBonusIncreaseBpsPerDay uint64 `json:"deleveragingBonusIncreaseBpsPerDay"`
	}

	ReserveFees struct {
		BorrowFeeBps uint64 `json:"borrowFeeBps"`
	}
)

type ReserveStatus uint8

const (
	ReserveStatusActive ReserveStatus = iota
	ReserveStatusObsolete
	ReserveStatusHidden
)

func (rs ReserveStatus) String() string {
	switch rs {
	case ReserveStatusActive:
		return "Active"
	case ReserveStatusObsolete:
		return "Obsolete"
	case ReserveStatusHidden:
		return "Hidden"
	default:
		return "Unknown"
	}
}

type PriceStatusFlags uint8

const (
	PriceLoaded       PriceStatusFlags = 1 << 0
	PriceAgeChecked   PriceStatusFlags = 1 << 1
	PriceConfChecked  PriceStatusFlags = 1 << 2
	PriceStatusAllSet PriceStatusFlags = PriceLoaded | PriceAgeChecked | PriceConfChecked
)

// LastUpdate is the freshness marker of reserves and obligations.
type LastUpdate struct {
	Slot        uint64           `json:"slot"`
	Timestamp   int64            `json:"timestamp"`
	Stale       bool             `json:"stale"`
	PriceStatus PriceStatusFlags `json:"priceStatus"`
}

func (lu *LastUpdate) Update(slot uint64, timestamp int64, priceStatus PriceStatusFlags) {
	lu.Slot = slot
	lu.Timestamp = timestamp
	lu.Stale = false
	lu.PriceStatus = priceStatus
}

func (lu *LastUpdate) MarkStale() {
	lu.Stale = true
}

func (lu *LastUpdate) IsStale(slot uint64) bool {
	return lu.Stale || lu.Slot != slot
}

func (lu *LastUpdate) SlotsElapsed(slot uint64) (uint64, error) {
	if slot < lu.Slot {
		return 0, errors.Wrapf(NegativeElapsed, "slot %d < %d", slot, lu.Slot)
	}
	return slot - lu.Slot, nil
}

func (lu *LastUpdate) IsPriceValid() bool {
	return lu.PriceStatus&PriceStatusAllSet == PriceStatusAllSet
}

// ReserveId is the id NewReserve assigns to the reserve of asset in a market.
func ReserveId(lendingMarket uuid.UUID, assetId, symbol string) uuid.UUID {
	return utils.DeriveId("reserve", lendingMarket.String(), assetId, symbol)
}

func NewReserve(clk clock.Clock, lendingMarket uuid.UUID, mintDecimals uint8, config ReserveConfig, slot uint64) (*Reserve, error) {
	if mintDecimals > MAX_MINT_DECIMALS {
		return nil, errors.Wrapf(InvalidConfig, "mint decimals %d > %d", mintDecimals, MAX_MINT_DECIMALS)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	now := clk.Now().Unix()
	r := &Reserve{
		Id:            ReserveId(lendingMarket, config.TokenInfo.AssetId, config.TokenInfo.Symbol),
		LendingMarket: lendingMarket,
		Liquidity: ReserveLiquidity{
			MintDecimals:            mintDecimals,
			CumulativeBorrowRate:    fraction.One,
			CumulativeHostFixedRate: fraction.One,
		},
		Config:    config,
		CreatedAt: now,
	}
	r.LastUpdate.Update(slot, now, 0)
	return r, nil
}

func (r *Reserve) Clone() *Reserve {
	c := *r
	c.Config = r.Config.Clone()
	return &c
}

func (c ReserveConfig) Clone() ReserveConfig {
	c.BorrowRateCurve = BorrowRateCurve{Points: slices.Clone(c.BorrowRateCurve.Points)}
	c.ElevationGroups = slices.Clone(c.ElevationGroups)
	return c
}

func (c *ReserveConfig) Validate() error {
	if err := c.BorrowRateCurve.Validate(); err != nil {
		return err
	}
	if c.LoanToValuePct >= 100 || c.LiquidationThresholdPct > 100 {
		return errors.Wrap(InvalidConfig, "ltv and liquidation threshold must be percentages")
	}
	if c.LoanToValuePct > c.LiquidationThresholdPct {
		return errors.Wrap(InvalidConfig, "ltv must not exceed the liquidation threshold")
	}
	if c.MaxLiquidationBonusBps > FULL_BPS || c.BadDebtLiquidationBonusBps > FULL_BPS {
		return errors.Wrap(InvalidConfig, "liquidation bonus out of range")
	}
	if c.MinLiquidationBonusBps > c.MaxLiquidationBonusBps {
		return errors.Wrap(InvalidConfig, "min liquidation bonus above max")
	}
	if c.ProtocolTakeRatePct > 100 || c.ProtocolLiquidationFeePct > 100 {
		return errors.Wrap(InvalidConfig, "protocol fee percentages out of range")
	}
	if c.HostFixedInterestRateBps > FULL_BPS {
		return errors.Wrap(InvalidConfig, "host fixed interest rate out of range")
	}
	if c.BorrowFactorPct < 100 {
		return errors.Wrap(InvalidConfig, "borrow factor must be at least 100%")
	}
	if c.Fees.BorrowFeeBps > FULL_BPS {
		return errors.Wrap(InvalidConfig, "borrow fee out of range")
	}
	if c.Status > ReserveStatusHidden {
		return errors.Wrapf(InvalidConfig, "unknown reserve status %d", c.Status)
	}
	for _, g := range c.ElevationGroups {
		if g == ELEVATION_GROUP_NONE || g > MAX_ELEVATION_GROUP {
			return errors.Wrapf(InvalidConfig, "elevation group id %d", g)
		}
	}
	if err := c.DepositWithdrawalCap.Validate(); err != nil {
		return err
	}
	if err := c.DebtWithdrawalCap.Validate(); err != nil {
		return err
	}
	return c.TokenInfo.Validate()
}

// AssertOperational rejects anything that would grow deposits or debt of an
// obsolete reserve. Hidden reserves behave as active ones.
func (r *Reserve) AssertOperational(isIncreasing bool) error {
	switch r.Config.Status {
	case ReserveStatusActive, ReserveStatusHidden:
		return nil
	case ReserveStatusObsolete:
		if isIncreasing {
			return errors.Wrapf(ReserveObsolete, "reserve %s", r.Id)
		}
		return nil
	}
	return errors.Wrapf(InvalidConfig, "unknown reserve status %d", r.Config.Status)
}

func (r *Reserve) AssertFresh(slot uint64) error {
	if r.LastUpdate.IsStale(slot) {
		return errors.Wrapf(StaleReserve, "reserve %s last refreshed at slot %d", r.Config.TokenInfo.Symbol, r.LastUpdate.Slot)
	}
	if !r.LastUpdate.IsPriceValid() {
		return errors.Wrapf(InvalidOracle, "reserve %s price status %03b", r.Config.TokenInfo.Symbol, r.LastUpdate.PriceStatus)
	}
	return nil
}

// DeleveragingElapsed reports whether market-wide deleveraging of the reserve
// is past its margin call period, and for how many seconds.
func (r *Reserve) DeleveragingElapsed(now int64) (bool, uint64) {
	started := r.Config.DeleveragingMarginCallStartedTs
	if started == 0 {
		return false, 0
	}
	end := started + int64(r.Config.DeleveragingMarginCallPeriodSecs)
	if now < end {
		return false, 0
	}
	return true, uint64(now - end)
}

func (r *Reserve) InElevationGroup(id uint8) bool {
	return id != ELEVATION_GROUP_NONE && slices.Contains(r.Config.ElevationGroups, id)
}

func (r *Reserve) BorrowFactor(inElevationGroup bool) fraction.Fraction {
	if inElevationGroup {
		return fraction.One
	}
	return fraction.FromPercent(r.Config.BorrowFactorPct)
}

// TotalSupply is the liquidity owned by depositors.
func (r *Reserve) TotalSupply() (fraction.Fraction, error) {
	l := &r.Liquidity
	total, err := fraction.FromUint64(l.AvailableAmount).Add(l.BorrowedAmount)
	if err != nil {
		return fraction.Zero, err
	}
	for _, fee := range []fraction.Fraction{l.AccumulatedProtocolFees, l.AccumulatedReferrerFees, l.PendingReferrerFees} {
		if total, err = total.Sub(fee); err != nil {
			return fraction.Zero, errors.Wrap(err, "reserve fees exceed supply")
		}
	}
	return total, nil
}

// UtilizationRate is borrowed / total supply, clamped to [0, 1].
func (r *Reserve) UtilizationRate() (fraction.Fraction, error) {
	total, err := r.TotalSupply()
	if err != nil {
		return fraction.Zero, err
	}
	if total.IsZero() {
		return fraction.Zero, nil
	}
	u, err := r.Liquidity.BorrowedAmount.Div(total)
	if err != nil {
		return fraction.Zero, err
	}
	return fraction.Min(u, fraction.One), nil
}

func (r *Reserve) CurrentBorrowRate() (fraction.Fraction, error) {
	u, err := r.UtilizationRate()
	if err != nil {
		return fraction.Zero, err
	}
	return r.Config.BorrowRateCurve.GetBorrowRate(u)
}

func (r *Reserve) mintFactor() (uint64, error) {
	return pow10(uint64(r.Liquidity.MintDecimals))
}

// MarketValue converts a token amount into quote value at the reserve price.
func (r *Reserve) MarketValue(amount fraction.Fraction) (fraction.Fraction, error) {
	factor, err := r.mintFactor()
	if err != nil {
		return fraction.Zero, err
	}
	v, err := amount.Mul(r.Liquidity.MarketPrice)
	if err != nil {
		return fraction.Zero, err
	}
	return v.DivUint64(factor)
}

// AmountForValue converts quote value back into a token amount.
func (r *Reserve) AmountForValue(value fraction.Fraction) (fraction.Fraction, error) {
	if r.Liquidity.MarketPrice.IsZero() {
		return fraction.Zero, errors.Wrap(InvalidOracle, "reserve has no price")
	}
	factor, err := r.mintFactor()
	if err != nil {
		return fraction.Zero, err
	}
	scaled, err := value.MulUint64(factor)
	if err != nil {
		return fraction.Zero, err
	}
	return scaled.Div(r.Liquidity.MarketPrice)
}

// SetPrice caches a validated price on the reserve.
func (r *Reserve) SetPrice(price Price, now int64) error {
	if err := price.Validate(now, r.Config.TokenInfo.MaxAgePriceSecs); err != nil {
		return errors.Wrapf(err, "reserve %s", r.Config.TokenInfo.Symbol)
	}
	value, err := price.ToFraction()
	if err != nil {
		return err
	}
	if value.IsZero() {
		return errors.Wrap(InvalidOracle, "price rounds to zero")
	}
	r.Liquidity.MarketPrice = value
	r.Liquidity.MarketPriceLastUpdatedTs = price.Timestamp
	return nil
}

// PriceStatus reports which price checks the cached price passes at now.
func (r *Reserve) PriceStatus(now int64) PriceStatusFlags {
	if r.Liquidity.MarketPrice.IsZero() {
		return 0
	}
	status := PriceLoaded | PriceConfChecked
	age := now - r.Liquidity.MarketPriceLastUpdatedTs
	if age < 0 || uint64(age) <= r.Config.TokenInfo.MaxAgePriceSecs {
		status |= PriceAgeChecked
	}
	return status
}

// RemainingBorrowCapacity is the amount still borrowable under the reserve
// borrow limits.
func (r *Reserve) RemainingBorrowCapacity(inElevationGroup bool) fraction.Fraction {
	if r.Config.BorrowLimit == math.MaxUint64 && (inElevationGroup || r.Config.BorrowLimitOutsideElevationGroup == math.MaxUint64) {
		return fraction.Max
	}
	remaining := fraction.FromUint64(r.Config.BorrowLimit).SaturatingSub(r.Liquidity.BorrowedAmount)
	if !inElevationGroup && r.Config.BorrowLimitOutsideElevationGroup != math.MaxUint64 {
		outside := fraction.FromUint64(r.Config.BorrowLimitOutsideElevationGroup).
			SaturatingSub(fraction.FromUint64(r.Liquidity.BorrowedAmountOutsideElevationGroups))
		remaining = fraction.Min(remaining, outside)
	}
	return remaining
}
