package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/DomeLiquid/klend/core"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarket = `
database: " file:sim?mode=memory "
market:
  name: " main "
  admin_key: admin
  referral_fee_bps: 2000
  close_factor_pct: 25
  autodeleverage_enabled: true
reserves:
  - token:
      symbol: sol
      price_source: pyth
      max_age_price_secs: 60
    decimals: 9
    ltv_pct: 75
    liquidation_threshold_pct: 85
    min_liquidation_bonus_bps: 200
    max_liquidation_bonus_bps: 1000
    bad_debt_liquidation_bonus_bps: 99
    protocol_take_rate_pct: 10
    deposit_limit: 1000000000000
    borrow_rate_curve:
      - {utilization_bps: 0, rate_bps: 0}
      - {utilization_bps: 8000, rate_bps: 500}
      - {utilization_bps: 10000, rate_bps: 10000}
    elevation_groups: [1]
  - token:
      symbol: usdc
      price_source: scope
      max_age_price_secs: 60
    decimals: 6
    ltv_pct: 80
    liquidation_threshold_pct: 90
    min_liquidation_bonus_bps: 200
    max_liquidation_bonus_bps: 500
    borrow_fee_bps: 10
    borrow_rate_curve:
      - {utilization_bps: 0, rate_bps: 100}
      - {utilization_bps: 10000, rate_bps: 3000}
    deposit_withdrawal_cap: {capacity: 5000000000, interval_seconds: 3600}
    elevation_groups: [1]
elevation_groups:
  - id: 1
    ltv_pct: 85
    liquidation_threshold_pct: 90
    max_liquidation_bonus_bps: 500
    debt_reserve: USDC
    allowed_collateral: [sol]
scenario:
  - prices: {sol: "150", USDC: "1"}
  - action: deposit
    owner: alice
    reserve: sol
    amount: "10"
  - advance_secs: 3600
    action: borrow
    owner: alice
    reserve: usdc
    amount: max
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testMarket))
	require.NoError(t, err)

	assert.Equal(t, "file:sim?mode=memory", cfg.Database)
	assert.Equal(t, "main", cfg.Market.Name)
	require.Len(t, cfg.Reserves, 2)

	sol, ok := cfg.Reserve("sol")
	require.True(t, ok)
	assert.Equal(t, "SOL", sol.Token.Name)
	assert.Equal(t, core.PythSource, sol.Token.PriceSource)
	assert.NotEmpty(t, sol.Token.AssetId)

	usdc, ok := cfg.Reserve("USDC")
	require.True(t, ok)
	assert.Equal(t, core.ScopeSource, usdc.Token.PriceSource)
	assert.Equal(t, int64(5_000_000_000), usdc.DepositWithdrawalCap.ConfigCapacity)
	assert.Equal(t, uint64(3600), usdc.DepositWithdrawalCap.ConfigIntervalLengthSeconds)

	require.Len(t, cfg.Scenario, 3)
	assert.Equal(t, []string{"SOL", "USDC"}, cfg.Scenario[0].PriceSymbols())
	assert.Equal(t, core.ActionDeposit, cfg.Scenario[1].ActionType())
	assert.Equal(t, "USDC", cfg.Scenario[2].Reserve)
}

func TestLendingMarket(t *testing.T) {
	cfg, err := Parse([]byte(testMarket))
	require.NoError(t, err)

	m, err := cfg.LendingMarket(clock.NewMock())
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), m.ReferralFeeBps)
	assert.Equal(t, uint8(25), m.LiquidationMaxDebtCloseFactorPct)
	assert.Equal(t, uint8(95), m.InsolvencyRiskUnhealthyLtvPct)
	assert.Equal(t, uint64(math.MaxUint64), m.GlobalAllowedBorrowValue)
	assert.True(t, m.AutodeleverageEnabled)

	eg, err := m.GetElevationGroup(1)
	require.NoError(t, err)
	usdc, _ := cfg.Reserve("USDC")
	sol, _ := cfg.Reserve("SOL")
	assert.Equal(t, core.ReserveId(m.Id, usdc.Token.AssetId, "USDC"), eg.DebtReserve)
	require.Len(t, eg.AllowedCollateralReserves, 1)
	assert.Equal(t, core.ReserveId(m.Id, sol.Token.AssetId, "SOL"), eg.AllowedCollateralReserves[0])

	rc, err := sol.ReserveConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), rc.DepositLimit)
	assert.Equal(t, uint64(math.MaxUint64), rc.BorrowLimit)
	assert.Equal(t, uint64(100), rc.BorrowFactorPct)
	assert.Len(t, rc.BorrowRateCurve.Points, 3)

	r, err := core.NewReserve(clock.NewMock(), m.Id, sol.Decimals, rc, 0)
	require.NoError(t, err)
	assert.Equal(t, eg.AllowedCollateralReserves[0], r.Id)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(testMarket))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"no name", func(cfg *Config) { cfg.Market.Name = "" }},
		{"no reserves", func(cfg *Config) { cfg.Reserves = nil }},
		{"duplicate reserve", func(cfg *Config) { cfg.Reserves[1].Token.Symbol = "SOL" }},
		{"ltv above threshold", func(cfg *Config) { cfg.Reserves[0].LtvPct = 90 }},
		{"curve not monotonic", func(cfg *Config) {
			cfg.Reserves[0].BorrowRateCurve[2].BorrowRateBps = 100
		}},
		{"unknown status", func(cfg *Config) { cfg.Reserves[0].Status = "paused" }},
		{"unknown group", func(cfg *Config) { cfg.Reserves[0].ElevationGroups = []uint8{7} }},
		{"group references unknown reserve", func(cfg *Config) { cfg.ElevationGroups[0].DebtReserve = "ETH" }},
		{"bad close factor", func(cfg *Config) {
			pct := uint8(0)
			cfg.Market.CloseFactorPct = &pct
		}},
		{"unknown scenario action", func(cfg *Config) { cfg.Scenario[1].Action = "loop" }},
		{"bad scenario price", func(cfg *Config) { cfg.Scenario[0].Prices["SOL"] = "-1" }},
		{"empty step", func(cfg *Config) { cfg.Scenario[0] = Step{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.True(t, errors.Is(cfg.Validate(), core.InvalidConfig))
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("market:\n  name: main\n  colour: red\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("market: {name: main}\nreserves:\n  - token: {symbol: SOL, price_source: chainlink}\n"))
	assert.True(t, errors.Is(err, core.InvalidConfig))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(envEmergencyMode, "true")
	t.Setenv(envReferralFeeBps, "500")
	t.Setenv(envCloseFactorPct, "50")
	t.Setenv(envGlobalAllowedBorrow, "1000000")
	t.Setenv(envLogLevel, "debug")

	cfg, err := Parse([]byte(testMarket))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	m, err := cfg.LendingMarket(clock.NewMock())
	require.NoError(t, err)
	assert.True(t, m.EmergencyMode)
	assert.Equal(t, uint16(500), m.ReferralFeeBps)
	assert.Equal(t, uint8(50), m.LiquidationMaxDebtCloseFactorPct)
	assert.Equal(t, uint64(1_000_000), m.GlobalAllowedBorrowValue)

	t.Setenv(envBorrowDisabled, "maybe")
	_, err = Parse([]byte(testMarket))
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	value, expo, err := ParsePrice("150.25")
	require.NoError(t, err)
	assert.Equal(t, uint64(15025), value)
	assert.Equal(t, int32(-2), expo)

	_, _, err = ParsePrice("0")
	assert.True(t, errors.Is(err, core.InvalidConfig))
	_, _, err = ParsePrice("abc")
	assert.True(t, errors.Is(err, core.InvalidConfig))
}

func TestRawAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
		err      bool
	}{
		{"1.5", 6, 1_500_000, false},
		{"10", 9, 10_000_000_000, false},
		{"max", 6, core.U64_MAX, false},
		{"", 6, core.U64_MAX, false},
		{"0.0000001", 6, 0, true},
		{"-1", 6, 0, true},
		{"99999999999999999999", 6, 0, true},
		{"ten", 6, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := RawAmount(tt.in, tt.decimals)
			if tt.err {
				assert.True(t, errors.Is(err, core.InvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
