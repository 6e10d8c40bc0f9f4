package klend

import (
	"github.com/DomeLiquid/klend/core"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every observation is then a no-op.
type Metrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	accruals     *prometheus.CounterVec
	capHits      *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
}

var capErrors = []struct {
	cap string
	err error
}{
	{"deposit_limit", core.DepositCapExceeded},
	{"borrow_limit", core.BorrowLimitExceeded},
	{"withdrawal_cap", core.WithdrawalCapExceeded},
	{"borrow_capacity", core.BorrowTooLarge},
	{"withdraw_limit", core.WithdrawExceedsLimit},
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klend_operations_total",
			Help: "Lending operations by action and result.",
		}, []string{"action", "result"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klend_liquidations_total",
			Help: "Committed liquidations by reason.",
		}, []string{"reason"}),
		accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klend_reserve_accruals_total",
			Help: "Reserve refreshes that advanced interest accrual.",
		}, []string{"reserve"}),
		capHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klend_cap_hits_total",
			Help: "Operations rejected by a reserve or obligation limit.",
		}, []string{"cap"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "klend_reserve_utilization_ratio",
			Help: "Borrowed share of reserve supply at the last refresh.",
		}, []string{"reserve"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.liquidations, m.accruals, m.capHits, m.utilization)
	}
	return m
}

func (m *Metrics) ObserveOperation(action core.ActionType, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.operations.WithLabelValues(action.String(), "ok").Inc()
		return
	}
	m.operations.WithLabelValues(action.String(), "error").Inc()
	for _, c := range capErrors {
		if errors.Is(err, c.err) {
			m.capHits.WithLabelValues(c.cap).Inc()
			return
		}
	}
}

func (m *Metrics) ObserveLiquidation(reason core.LiquidationReason) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) ObserveRefresh(r *core.Reserve, accrued bool) {
	if m == nil {
		return
	}
	symbol := r.Config.TokenInfo.Symbol
	if accrued {
		m.accruals.WithLabelValues(symbol).Inc()
	}
	if u, err := r.UtilizationRate(); err == nil {
		m.utilization.WithLabelValues(symbol).Set(u.Decimal().InexactFloat64())
	}
}
