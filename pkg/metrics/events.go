package metrics

import "github.com/prometheus/client_golang/prometheus"

// DistributorMetrics tracks live event fan-out.
type DistributorMetrics struct {
	published   prometheus.Counter
	delivered   prometheus.Counter
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewDistributorMetrics registers distributor metrics on reg. A nil registerer yields a no-op recorder.
func NewDistributorMetrics(reg prometheus.Registerer) *DistributorMetrics {
	if reg == nil {
		return &DistributorMetrics{}
	}
	m := &DistributorMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events accepted for fan-out.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Per-subscriber event deliveries.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped, by reason.",
		}, []string{"reason"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Currently attached event subscribers.",
		}),
	}
	reg.MustRegister(m.published, m.delivered, m.dropped, m.subscribers)
	return m
}

func (m *DistributorMetrics) IncPublished() {
	if m == nil || m.published == nil {
		return
	}
	m.published.Inc()
}

func (m *DistributorMetrics) IncDelivered() {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.Inc()
}

// IncDropped counts a drop; reason is "inbox_full", "subscriber_full" or "stopped".
func (m *DistributorMetrics) IncDropped(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *DistributorMetrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
