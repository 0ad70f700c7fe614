package compliance

import (
	audit "archivegate/pkg/platform/audit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for committed audit entries.
type Metrics struct {
	Entries         *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_audit_entries_total",
			Help: "Audit entries committed to the trail, by outcome",
		}, []string{"outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "archivegate_audit_persist_failures_total",
			Help: "Audit entries that could not be committed",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "archivegate_audit_persist_duration_seconds",
			Help:    "Time to commit one audit entry",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncEntries(outcome audit.Outcome) {
	m.Entries.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}
