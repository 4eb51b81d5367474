// Package metrics provides Prometheus observability for the provider data
// engine. All methods are nil-safe so callers can pass a nil *Metrics when
// observability is not wanted, such as in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// Ingest outcomes by compact, jurisdiction and result
	IngestOutcome *prometheus.CounterVec

	// Ingest handler latency
	IngestLatency prometheus.Histogram

	// Privilege deactivations triggered by license deactivation cascades
	PrivilegeDeactivations *prometheus.CounterVec

	// Events accepted by the bus versus rejected per-entry
	EventOutcome *prometheus.CounterVec

	// Notification sends skipped because a prior success was recorded
	NotificationReplays prometheus.Counter
}

// New creates a Metrics instance with all engine collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		IngestOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compactmgr_ingest_outcomes_total",
			Help: "Total license ingest outcomes by compact, jurisdiction and result",
		}, []string{"compact", "jurisdiction", "result"}), // result: "success", "validation_failure", "error"

		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "compactmgr_ingest_duration_seconds",
			Help:    "Duration of a single license ingest including roll-up",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		PrivilegeDeactivations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compactmgr_privilege_deactivations_total",
			Help: "Total privileges deactivated by home-jurisdiction license deactivation",
		}, []string{"compact", "jurisdiction"}),

		EventOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compactmgr_event_outcomes_total",
			Help: "Total domain events by type and bus acceptance result",
		}, []string{"event_type", "result"}), // result: "accepted", "failed"

		NotificationReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compactmgr_notification_replays_total",
			Help: "Total notification sends skipped due to a recorded prior success",
		}),
	}
}

// IncrementIngestOutcome records one license ingest result.
func (m *Metrics) IncrementIngestOutcome(compact, jurisdiction, result string) {
	if m != nil {
		m.IngestOutcome.WithLabelValues(compact, jurisdiction, result).Inc()
	}
}

// ObserveIngestLatency records the duration of one license ingest.
func (m *Metrics) ObserveIngestLatency(d time.Duration) {
	if m != nil {
		m.IngestLatency.Observe(d.Seconds())
	}
}

// AddPrivilegeDeactivations records privileges deactivated by a cascade.
func (m *Metrics) AddPrivilegeDeactivations(compact, jurisdiction string, count int) {
	if m != nil && count > 0 {
		m.PrivilegeDeactivations.WithLabelValues(compact, jurisdiction).Add(float64(count))
	}
}

// IncrementEventOutcome records one domain event bus result.
func (m *Metrics) IncrementEventOutcome(eventType, result string) {
	if m != nil {
		m.EventOutcome.WithLabelValues(eventType, result).Inc()
	}
}

// IncrementNotificationReplays records a send skipped as a replay.
func (m *Metrics) IncrementNotificationReplays() {
	if m != nil {
		m.NotificationReplays.Inc()
	}
}
