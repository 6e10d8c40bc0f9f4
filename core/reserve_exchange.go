package core

import (
	"github.com/DomeLiquid/klend/fraction"
)

// ExchangeRate converts between liquidity and collateral units:
// collateral = liquidity * CollateralSupply / Liquidity.
type ExchangeRate struct {
	CollateralSupply uint64
	Liquidity        fraction.Fraction
}

func (r *Reserve) CollateralExchangeRate() (ExchangeRate, error) {
	total, err := r.TotalSupply()
	if err != nil {
		return ExchangeRate{}, err
	}
	return ExchangeRate{CollateralSupply: r.Collateral.MintTotalSupply, Liquidity: total}, nil
}

func (e ExchangeRate) isInitial() bool {
	return e.CollateralSupply == 0 || e.Liquidity.IsZero()
}

// Rate is collateral units per liquidity unit.
func (e ExchangeRate) Rate() (fraction.Fraction, error) {
	if e.isInitial() {
		return INITIAL_COLLATERAL_RATE, nil
	}
	return fraction.FromUint64(e.CollateralSupply).Div(e.Liquidity)
}

func (e ExchangeRate) FractionLiquidityToCollateral(liquidity fraction.Fraction) (fraction.Fraction, error) {
	if e.isInitial() {
		return liquidity.Mul(INITIAL_COLLATERAL_RATE)
	}
	scaled, err := liquidity.MulUint64(e.CollateralSupply)
	if err != nil {
		return fraction.Zero, err
	}
	return scaled.Div(e.Liquidity)
}

func (e ExchangeRate) FractionCollateralToLiquidity(collateral fraction.Fraction) (fraction.Fraction, error) {
	if e.isInitial() {
		return collateral.Div(INITIAL_COLLATERAL_RATE)
	}
	scaled, err := collateral.Mul(e.Liquidity)
	if err != nil {
		return fraction.Zero, err
	}
	return scaled.DivUint64(e.CollateralSupply)
}

func (e ExchangeRate) LiquidityToCollateral(liquidity uint64) (uint64, error) {
	f, err := e.FractionLiquidityToCollateral(fraction.FromUint64(liquidity))
	if err != nil {
		return 0, err
	}
	return f.ToFloor()
}

func (e ExchangeRate) LiquidityToCollateralCeil(liquidity uint64) (uint64, error) {
	f, err := e.FractionLiquidityToCollateral(fraction.FromUint64(liquidity))
	if err != nil {
		return 0, err
	}
	return f.ToCeil()
}

// CollateralToLiquidity is the payout for redeeming collateral.
func (e ExchangeRate) CollateralToLiquidity(collateral uint64) (uint64, error) {
	f, err := e.FractionCollateralToLiquidity(fraction.FromUint64(collateral))
	if err != nil {
		return 0, err
	}
	return f.ToFloor()
}

// CollateralToLiquidityCeil is the liquidity the pool must receive to back
// the given collateral.
func (e ExchangeRate) CollateralToLiquidityCeil(collateral uint64) (uint64, error) {
	f, err := e.FractionCollateralToLiquidity(fraction.FromUint64(collateral))
	if err != nil {
		return 0, err
	}
	return f.ToCeil()
}
