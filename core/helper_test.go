package core

import (
	"math"
	"testing"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

var testMarketId = uuid.Must(uuid.FromString("8f8a8a55-5c4a-4c38-9e4d-1f0c1f3b9e01"))

func testCurve() BorrowRateCurve {
	return NewBorrowRateCurve(
		CurvePoint{UtilizationRateBps: 0, BorrowRateBps: 0},
		CurvePoint{UtilizationRateBps: 8000, BorrowRateBps: 500},
		CurvePoint{UtilizationRateBps: 10000, BorrowRateBps: 10000},
	)
}

func testReserveConfig(symbol string) ReserveConfig {
	return ReserveConfig{
		LoanToValuePct:                   75,
		LiquidationThresholdPct:          85,
		MinLiquidationBonusBps:           200,
		MaxLiquidationBonusBps:           1000,
		BadDebtLiquidationBonusBps:       99,
		ProtocolTakeRatePct:              10,
		ProtocolLiquidationFeePct:        10,
		BorrowFactorPct:                  100,
		DepositLimit:                     math.MaxUint64,
		BorrowLimit:                      math.MaxUint64,
		BorrowLimitOutsideElevationGroup: math.MaxUint64,
		BorrowRateCurve:                  testCurve(),
		TokenInfo: TokenInfo{
			Name:            symbol,
			Symbol:          symbol,
			AssetId:         uuid.NewV5(testMarketId, symbol).String(),
			MaxAgePriceSecs: 60,
		},
	}
}

// newTestReserve returns a fresh reserve at slot 100 priced at price quote
// units per whole token.
func newTestReserve(t *testing.T, symbol string, decimals uint8, price string, mutate ...func(*ReserveConfig)) *Reserve {
	t.Helper()
	config := testReserveConfig(symbol)
	for _, m := range mutate {
		m(&config)
	}
	clk := clock.NewMock()
	r, err := NewReserve(clk, testMarketId, decimals, config, 100)
	require.NoError(t, err)
	r.Liquidity.MarketPrice = fraction.MustFromDecimal(price)
	r.Liquidity.MarketPriceLastUpdatedTs = clk.Now().Unix()
	r.LastUpdate.Update(100, clk.Now().Unix(), PriceStatusAllSet)
	return r
}

func reserveLookup(reserves ...*Reserve) map[uuid.UUID]*Reserve {
	m := make(map[uuid.UUID]*Reserve, len(reserves))
	for _, r := range reserves {
		m[r.Id] = r
	}
	return m
}

func dec(f fraction.Fraction, places int32) string {
	return f.Decimal().Round(places).String()
}
