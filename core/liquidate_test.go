package core

import (
	"testing"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLiquidationReason(t *testing.T) {
	tests := []struct {
		name       string
		debtTokens uint64
		mutate     func(*position)
		now        int64
		expected   LiquidationReason
	}{
		{name: "healthy", debtTokens: 800, expected: LiquidationReasonNone},
		{name: "unhealthy", debtTokens: 900, expected: LiquidationReasonLtvExceeded},
		{name: "bad debt", debtTokens: 995, expected: LiquidationReasonBadDebt},
		{
			name:       "individual deleveraging",
			debtTokens: 800,
			mutate: func(p *position) {
				p.market.AutodeleverageEnabled = true
				p.market.IndividualAutodeleverageMarginCallPeriodSecs = 3600
				p.obligation.AutodeleverageTargetLtvPct = 50
				p.obligation.AutodeleverageMarginCallStartedTs = 1000
			},
			now:      4600,
			expected: LiquidationReasonIndividualDeleveraging,
		},
		{
			name:       "individual deleveraging in margin period",
			debtTokens: 800,
			mutate: func(p *position) {
				p.market.AutodeleverageEnabled = true
				p.market.IndividualAutodeleverageMarginCallPeriodSecs = 3600
				p.obligation.AutodeleverageTargetLtvPct = 50
				p.obligation.AutodeleverageMarginCallStartedTs = 1000
			},
			now:      4599,
			expected: LiquidationReasonNone,
		},
		{
			name:       "market wide deleveraging",
			debtTokens: 800,
			mutate: func(p *position) {
				p.market.AutodeleverageEnabled = true
				p.collateral.Config.DeleveragingMarginCallStartedTs = 1000
				p.collateral.Config.DeleveragingMarginCallPeriodSecs = 100
			},
			now:      1100,
			expected: LiquidationReasonMarketWideDeleveraging,
		},
		{
			name:       "deleveraging disabled",
			debtTokens: 800,
			mutate: func(p *position) {
				p.debt.Config.DeleveragingMarginCallStartedTs = 1000
			},
			now:      5000,
			expected: LiquidationReasonNone,
		},
		{
			name:       "order execution",
			debtTokens: 800,
			mutate: func(p *position) {
				p.obligation.Order = &ObligationOrder{OrderConditionUserLtvAbove, fraction.FromPercent(70), 100, 500}
			},
			expected: LiquidationReasonOrderExecution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*position)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			p := newPosition(t, 1000, tt.debtTokens, mutate...)
			reason, err := CheckLiquidationReason(p.market, p.obligation, p.debt, p.collateral, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, reason)
		})
	}
}

func TestUnhealthyLiquidationBonus(t *testing.T) {
	f := fraction.MustFromDecimal
	minB, maxB := fraction.FromBps(200), fraction.FromBps(1000)
	tests := []struct {
		name     string
		ltv      string
		noBf     string
		eg       *ElevationGroup
		expected string
	}{
		{"distance above unhealthy", "0.9", "0.9", nil, "0.05"},
		{"min bonus", "0.86", "0.86", nil, "0.02"},
		{"max bonus", "0.97", "0.5", nil, "0.1"},
		{"capped by distance to bad debt", "0.98", "0.98", nil, "0.01"},
		{"capped by elevation group", "0.9", "0.9", &ElevationGroup{MaxLiquidationBonusBps: 300}, "0.03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bonus := UnhealthyLiquidationBonus(minB, maxB, f(tt.ltv), f("0.85"), f(tt.noBf), tt.eg)
			assert.Equal(t, tt.expected, dec(bonus, 4))
		})
	}
}

func TestBadDebtLiquidationBonus(t *testing.T) {
	r := newTestReserve(t, "SOL", 6, "1")
	tests := []struct {
		noBf     string
		expected string
	}{
		{"0.99", "0.0099"},
		{"0.995", "0.005"},
		{"1", "0"},
		{"1.2", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.noBf, func(t *testing.T) {
			bonus := BadDebtLiquidationBonus(r, fraction.MustFromDecimal(tt.noBf))
			assert.Equal(t, tt.expected, dec(bonus, 4))
		})
	}
}

func TestDeleveragingLiquidationBonus(t *testing.T) {
	minB, maxB := fraction.FromBps(200), fraction.FromBps(1000)
	tests := []struct {
		name     string
		secs     uint64
		expected string
	}{
		{"just started", 0, "0.02"},
		{"half a day", SECONDS_PER_DAY / 2, "0.025"},
		{"two days", 2 * SECONDS_PER_DAY, "0.04"},
		{"capped", 30 * SECONDS_PER_DAY, "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bonus, err := DeleveragingLiquidationBonus(minB, maxB, 100, tt.secs)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dec(bonus, 4))
		})
	}
}

func TestLiquidationBonusSoftReasons(t *testing.T) {
	p := newPosition(t, 1000, 800, func(p *position) {
		p.market.AutodeleverageEnabled = true
		p.market.IndividualAutodeleverageMarginCallPeriodSecs = 3600
		p.debt.Config.DeleveragingBonusIncreaseBpsPerDay = 100
		p.obligation.AutodeleverageTargetLtvPct = 50
		p.obligation.AutodeleverageMarginCallStartedTs = 1000
	})
	now := int64(1000 + 3600 + SECONDS_PER_DAY)
	bonus, err := LiquidationBonus(p.market, p.obligation, LiquidationReasonIndividualDeleveraging, p.debt, p.collateral, now)
	require.NoError(t, err)
	assert.Equal(t, "0.03", dec(bonus, 4))

	p.obligation.Order = &ObligationOrder{OrderConditionUserLtvAbove, fraction.FromPercent(70), 100, 500}
	bonus, err = LiquidationBonus(p.market, p.obligation, LiquidationReasonOrderExecution, p.debt, p.collateral, now)
	require.NoError(t, err)
	assert.True(t, bonus.Gt(fraction.FromBps(100)))
	assert.True(t, bonus.Lt(fraction.FromBps(500)))

	_, err = LiquidationBonus(p.market, p.obligation, LiquidationReasonNone, p.debt, p.collateral, now)
	assert.ErrorIs(t, err, ObligationHealthy)
}

func TestLiquidationBonusSoftReasonDistanceCap(t *testing.T) {
	p := newPosition(t, 1000, 980, func(p *position) {
		p.collateral.Config.LiquidationThresholdPct = 99
		p.obligation.Order = &ObligationOrder{OrderConditionUserLtvAbove, fraction.FromPercent(50), 500, 500}
	})
	bonus, err := LiquidationBonus(p.market, p.obligation, LiquidationReasonOrderExecution, p.debt, p.collateral, 0)
	require.NoError(t, err)
	assert.Equal(t, "0.01", dec(bonus, 4))
}

func TestLiquidationCloseFactor(t *testing.T) {
	tests := []struct {
		name       string
		debtTokens uint64
		reason     LiquidationReason
		mutate     func(*LendingMarket)
		expected   string
	}{
		{name: "market close factor", debtTokens: 900, reason: LiquidationReasonLtvExceeded, expected: "0.2"},
		{name: "insolvency risk", debtTokens: 960, reason: LiquidationReasonLtvExceeded, expected: "1"},
		{name: "bad debt", debtTokens: 995, reason: LiquidationReasonBadDebt, expected: "1"},
		{
			name: "dust position", debtTokens: 900, reason: LiquidationReasonLtvExceeded,
			mutate:   func(m *LendingMarket) { m.MinFullLiquidationValueThreshold = 1000 },
			expected: "1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPosition(t, 1000, tt.debtTokens)
			if tt.mutate != nil {
				tt.mutate(p.market)
			}
			cf, err := LiquidationCloseFactor(p.market, p.obligation, tt.reason)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dec(cf, 4))
		})
	}
}

func TestMaxLiquidatableBorrowedAmount(t *testing.T) {
	p := newPosition(t, 1000, 900)
	leg := &p.obligation.Borrows[0]

	amount, err := MaxLiquidatableBorrowedAmount(p.market, p.obligation, leg, fraction.FromPercent(20), LiquidationReasonLtvExceeded)
	require.NoError(t, err)
	assert.Equal(t, "180000000", dec(amount, 0))

	p.market.MaxLiquidatableDebtMarketValueAtOnce = 50
	amount, err = MaxLiquidatableBorrowedAmount(p.market, p.obligation, leg, fraction.FromPercent(20), LiquidationReasonLtvExceeded)
	require.NoError(t, err)
	assert.Equal(t, "50000000", dec(amount, 0))

	amount, err = MaxLiquidatableBorrowedAmount(p.market, p.obligation, leg, fraction.One, LiquidationReasonBadDebt)
	require.NoError(t, err)
	assert.Equal(t, "900000000", dec(amount, 0))
}

func TestNewLiquidationContext(t *testing.T) {
	p := newPosition(t, 1000, 800)
	_, err := NewLiquidationContext(p.market, p.obligation, p.debt, p.collateral, 0)
	assert.ErrorIs(t, err, ObligationHealthy)

	p = newPosition(t, 1000, 900)
	lc, err := NewLiquidationContext(p.market, p.obligation, p.debt, p.collateral, 0)
	require.NoError(t, err)
	assert.Equal(t, LiquidationReasonLtvExceeded, lc.Reason)
	assert.Equal(t, "0.05", dec(lc.BonusRate, 4))
	assert.Equal(t, "0.2", dec(lc.CloseFactor, 4))
	assert.Equal(t, "180000000", dec(lc.MaxLiquidatableAmount, 0))
	assert.Equal(t, "0.9", dec(lc.Ltv, 4))
	assert.Equal(t, "0.85", dec(lc.UnhealthyLtv, 4))

	_, err = NewLiquidationContext(p.market, p.obligation, p.collateral, p.collateral, 0)
	assert.ErrorIs(t, err, InvalidLiquidationReserves)
}

func TestCalculateLiquidation(t *testing.T) {
	p := newPosition(t, 1000, 900)
	lc, err := NewLiquidationContext(p.market, p.obligation, p.debt, p.collateral, 0)
	require.NoError(t, err)

	res, err := CalculateLiquidation(p.obligation, lc, p.debt.Id, p.collateral.Id, U64_MAX)
	require.NoError(t, err)
	assert.Equal(t, uint64(180*units), res.RepayAmount)
	assert.Equal(t, "180000000", dec(res.SettleAmount, 0))
	assert.InDelta(t, float64(189*units), float64(res.WithdrawCollateralAmount), 2)

	res, err = CalculateLiquidation(p.obligation, lc, p.debt.Id, p.collateral.Id, 100*units)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*units), res.RepayAmount)
	assert.InDelta(t, float64(105*units), float64(res.WithdrawCollateralAmount), 2)

	_, err = CalculateLiquidation(p.obligation, lc, p.debt.Id, p.collateral.Id, 0)
	assert.ErrorIs(t, err, InvalidAmount)
	_, err = CalculateLiquidation(p.obligation, lc, p.collateral.Id, p.collateral.Id, 10)
	assert.ErrorIs(t, err, InvalidLiquidationReserves)
}

func TestCalculateLiquidationTakesWholeDeposit(t *testing.T) {
	p := newPosition(t, 100, 900, func(p *position) {
		p.collateral.Config.LiquidationThresholdPct = 99
	})
	// A second, larger deposit keeps the position out of bad debt.
	other := newTestReserve(t, "ETH", 6, "1")
	p.reserves[other.Id] = other
	minted, _, err := other.Deposit(900*units, 0)
	require.NoError(t, err)
	require.NoError(t, p.obligation.DepositCollateral(p.market, other, minted))
	p.refresh(t)

	lc := LiquidationContext{
		Reason:                LiquidationReasonLtvExceeded,
		BonusRate:             fraction.FromBps(500),
		CloseFactor:           fraction.One,
		MaxLiquidatableAmount: fraction.FromUint64(900 * units),
		NoBfLtv:               fraction.FromPercent(90),
	}
	res, err := CalculateLiquidation(p.obligation, lc, p.debt.Id, p.collateral.Id, U64_MAX)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*units), res.WithdrawCollateralAmount)
	// 100 of collateral covers 100 / 1.05 of debt.
	assert.InDelta(t, 95_238_096, float64(res.RepayAmount), 1)
}
