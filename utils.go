package klend

import (
	"math/big"

	"github.com/DomeLiquid/klend/core"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ComputeLiquidationPrice is the price of reserveId at which the obligation's
// debt reaches its uncapped unhealthy borrow value, every other price held
// fixed. It expects a freshly refreshed obligation and returns zero when the
// reserve alone cannot bring the obligation to the threshold.
func ComputeLiquidationPrice(market *core.LendingMarket, o *core.Obligation, reserves core.ReserveMap, reserveId uuid.UUID) (decimal.Decimal, error) {
	reserve, err := reserves.Get(reserveId)
	if err != nil {
		return decimal.Zero, err
	}
	price := reserve.Liquidity.MarketPrice.Decimal()
	debt := o.BorrowFactorAdjustedDebtValue.Decimal()
	if debt.IsZero() || price.IsZero() {
		return decimal.Zero, nil
	}

	unhealthy, own, err := ComputeHealthComponents(market, o, reserves, reserveId)
	if err != nil {
		return decimal.Zero, err
	}

	var liquidationPrice decimal.Decimal
	if o.FindCollateral(reserveId) >= 0 {
		if own.IsZero() {
			return decimal.Zero, nil
		}
		liquidationPrice = price.Mul(debt.Sub(unhealthy.Sub(own))).Div(own)
	} else if i := o.FindLiquidity(reserveId); i >= 0 {
		leg := o.Borrows[i].BorrowFactorAdjustedMarketValue.Decimal()
		if leg.IsZero() {
			return decimal.Zero, nil
		}
		liquidationPrice = price.Mul(unhealthy.Sub(debt.Sub(leg))).Div(leg)
	} else {
		return decimal.Zero, nil
	}

	if !liquidationPrice.IsPositive() {
		return decimal.Zero, nil
	}
	return liquidationPrice, nil
}

// ComputeHealthComponents returns the maintenance weighted collateral value of
// the obligation and the part of it contributed by reserveId.
func ComputeHealthComponents(market *core.LendingMarket, o *core.Obligation, reserves core.ReserveMap, reserveId uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	eg, err := market.GetElevationGroup(o.ElevationGroup)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	total := decimal.Zero
	own := decimal.Zero
	for _, d := range o.Deposits {
		r, err := reserves.Get(d.DepositReserve)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		weight := decimal.NewFromInt(int64(core.Maintenance.ThresholdPct(r, eg))).Div(HUNDRED)
		value := CalcValue(d.MarketValue.Decimal(), ONE, &weight)
		total = total.Add(value)
		if d.DepositReserve == reserveId {
			own = own.Add(value)
		}
	}
	return total, own, nil
}

func CalcValue(amount decimal.Decimal, price decimal.Decimal, weight *decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	if weight != nil {
		amount = amount.Mul(*weight)
	}
	return amount.Mul(price)
}

func CalcAmount(value decimal.Decimal, price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsZero() {
		return decimal.Zero, errors.New("price is zero")
	}
	return value.Div(price), nil
}

// UiAmount scales raw token units by the reserve's mint decimals.
func UiAmount(r *core.Reserve, amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(r.Liquidity.MintDecimals))
}

// ComputeNetApy weights the APY of every position by its market value over
// the obligation net value. Borrows count negatively.
func ComputeNetApy(o *core.Obligation, reserves core.ReserveMap) (decimal.Decimal, error) {
	net := o.NetValue().Decimal()
	if net.IsZero() {
		return decimal.Zero, nil
	}

	weighted := decimal.Zero
	for _, d := range o.Deposits {
		r, err := reserves.Get(d.DepositReserve)
		if err != nil {
			return decimal.Zero, err
		}
		apr, err := r.SupplyAPR()
		if err != nil {
			return decimal.Zero, err
		}
		weighted = weighted.Add(CalcValue(d.MarketValue.Decimal(), AprToApy(apr.Decimal()), nil))
	}
	for _, b := range o.Borrows {
		r, err := reserves.Get(b.BorrowReserve)
		if err != nil {
			return decimal.Zero, err
		}
		apr, err := r.BorrowAPR()
		if err != nil {
			return decimal.Zero, err
		}
		weighted = weighted.Sub(CalcValue(b.MarketValue.Decimal(), AprToApy(apr.Decimal()), nil))
	}
	return weighted.Div(net).Round(8), nil
}

// ReserveApy returns the supply and borrow APY at the reserve's current
// utilization.
func ReserveApy(r *core.Reserve) (decimal.Decimal, decimal.Decimal, error) {
	supply, err := r.SupplyAPR()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	borrow, err := r.BorrowAPR()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return AprToApy(supply.Decimal()), AprToApy(borrow.Decimal()), nil
}

/*
const aprToApy = (apr: number, compoundingFrequency = HOURS_PER_YEAR) =>

	(1 + apr / compoundingFrequency) ** compoundingFrequency - 1;
*/
func AprToApy(apr decimal.Decimal) decimal.Decimal {
	hoursPerYear := decimal.NewFromInt(HOURS_PER_YEAR)
	return (ONE.Add(apr.Div(hoursPerYear))).Pow(hoursPerYear).Sub(ONE).Round(8)
}
