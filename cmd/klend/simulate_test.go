package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenario = `
database: "file:%s?mode=memory&cache=shared"
market:
  name: main
reserves:
  - token: {symbol: SOL, price_source: pyth, max_age_price_secs: 60}
    decimals: 9
    ltv_pct: 75
    liquidation_threshold_pct: 85
    min_liquidation_bonus_bps: 200
    max_liquidation_bonus_bps: 1000
    borrow_rate_curve:
      - {utilization_bps: 0, rate_bps: 0}
      - {utilization_bps: 10000, rate_bps: 2000}
  - token: {symbol: USDC, price_source: pyth, max_age_price_secs: 60}
    decimals: 6
    ltv_pct: 80
    liquidation_threshold_pct: 90
    min_liquidation_bonus_bps: 200
    max_liquidation_bonus_bps: 500
    borrow_rate_curve:
      - {utilization_bps: 0, rate_bps: 0}
      - {utilization_bps: 8000, rate_bps: 800}
      - {utilization_bps: 10000, rate_bps: 5000}
scenario:
  - prices: {SOL: "150", USDC: "1"}
  - {action: deposit, owner: lp, reserve: USDC, amount: "10000"}
  - {action: deposit, owner: alice, reserve: SOL, amount: "10"}
  - {action: borrow, owner: alice, reserve: USDC, amount: "500"}
  - {action: borrow, owner: alice, reserve: USDC, amount: "1000", expect_error: "remaining borrow capacity"}
  - advance_secs: 3600
    prices: {SOL: "150", USDC: "1"}
    action: repay
    owner: alice
    reserve: USDC
    amount: "100"
`

func runCmd(t *testing.T, contents string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", path))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	out, err := runCmd(t, fmtScenario(t), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "market main")
	assert.Contains(t, out, "2 reserves, 0 elevation groups, 6 scenario steps")

	_, err = runCmd(t, "market: {name: main}\n", "validate")
	assert.Error(t, err)
}

func TestSimulateCmd(t *testing.T) {
	out, err := runCmd(t, fmtScenario(t), "simulate", "--debug")
	require.NoError(t, err)

	assert.Contains(t, out, "#2 Deposit lp")
	assert.Contains(t, out, "in 10000 USDC")
	assert.Contains(t, out, "in 10 SOL")
	assert.Contains(t, out, "out 500 USDC")
	assert.Contains(t, out, "#5 Borrow alice rejected")
	assert.Contains(t, out, "#6 Repay alice")
	assert.Contains(t, out, "in 100 USDC")

	assert.Contains(t, out, "reserves")
	assert.Contains(t, out, "obligations")
	assert.Contains(t, out, "SOL@")
}

func TestSimulateCmdUnexpectedOutcome(t *testing.T) {
	contents := fmtScenario(t) + `  - {action: withdraw, owner: alice, reserve: SOL, amount: "1", expect_error: "boom"}
`
	_, err := runCmd(t, contents, "simulate")
	assert.ErrorContains(t, err, "step 7")
}

func fmtScenario(t *testing.T) string {
	return fmt.Sprintf(scenario, t.Name())
}
