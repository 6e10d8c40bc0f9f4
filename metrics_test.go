package klend

import (
	"bytes"
	"testing"

	"github.com/DomeLiquid/klend/core"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation(core.ActionDeposit, nil)
		m.ObserveLiquidation(core.LiquidationReasonLtvExceeded)
		m.ObserveRefresh(&core.Reserve{}, true)
	})
}

func TestMetricsObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveOperation(core.ActionDeposit, nil)
	m.ObserveOperation(core.ActionDeposit, errors.Wrap(core.DepositCapExceeded, "usdc"))
	m.ObserveOperation(core.ActionWithdraw, core.WithdrawalCapExceeded)
	m.ObserveOperation(core.ActionBorrow, core.InvalidOracle)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("Deposit", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("Deposit", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.capHits.WithLabelValues("deposit_limit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.capHits.WithLabelValues("withdrawal_cap")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.capHits))

	n, err := testutil.GatherAndCount(reg, "klend_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "")
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Msgf("reserve %s refreshed", "USDC")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "reserve USDC refreshed")

	_, err = NewLogger(&buf, "loud")
	assert.Error(t, err)
}
