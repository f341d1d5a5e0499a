package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics tracks the order lifecycle and the wallet mutations it drives.
type OrderMetrics struct {
	placed        prometheus.Counter
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	ledger        *prometheus.CounterVec
	compensations *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
}

// NewOrderMetrics registers the order metrics on reg. A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders placed successfully.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejections_total",
			Help:      "Order operations rejected, by operation and error code.",
		}, []string{"operation", "code"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_mutations_total",
			Help:      "Wallet credits and debits applied, by type and source.",
		}, []string{"type", "source"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_compensations_total",
			Help:      "Compensating actions run after a partial failure, by outcome.",
		}, []string{"action", "outcome"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entity_lock_wait_seconds",
			Help:      "Time spent waiting for per-entity locks.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"kind"}),
	}
	reg.MustRegister(m.placed, m.transitions, m.rejections, m.ledger, m.compensations, m.lockWait)
	return m
}

func (m *OrderMetrics) IncPlaced() {
	if m == nil || m.placed == nil {
		return
	}
	m.placed.Inc()
}

func (m *OrderMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *OrderMetrics) IncRejection(operation, code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

func (m *OrderMetrics) IncLedgerMutation(txType, source string) {
	if m == nil || m.ledger == nil {
		return
	}
	m.ledger.WithLabelValues(normalizeLabel(txType), normalizeLabel(source)).Inc()
}

// IncCompensation records a compensation attempt; outcome is "applied" or "failed".
func (m *OrderMetrics) IncCompensation(action, outcome string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) ObserveLockWait(kind string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(kind)).Observe(wait.Seconds())
}
