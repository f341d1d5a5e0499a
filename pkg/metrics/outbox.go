package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks the outbox relay.
type OutboxMetrics struct {
	rows  *prometheus.CounterVec
	batch prometheus.Histogram
}

// NewOutboxMetrics registers relay metrics on reg. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_rows_total",
			Help:      "Outbox rows handled by the relay, by outcome.",
		}, []string{"outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_duration_seconds",
			Help:      "Time spent relaying one outbox batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.rows, m.batch)
	return m
}

// IncRow counts one row with outcome published, retry or dead_lettered.
func (m *OutboxMetrics) IncRow(outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(outcome).Inc()
}

func (m *OutboxMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(d.Seconds())
}
