package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions    *prometheus.CounterVec
	Revocations    *prometheus.CounterVec
	RecordsFetched *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_crawler_transitions_total",
			Help: "Crawl session state transitions",
		}, []string{"from", "to", "signal"}),
		Revocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_crawler_revocations_total",
			Help: "Crawl sessions revoked pending credential rotation",
		}, []string{"agency"}),
		RecordsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_crawler_records_fetched_total",
			Help: "Records written to the raw store by the crawler",
		}, []string{"agency"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_crawler_upstream_errors_total",
			Help: "Transient upstream failures retried with backoff",
		}, []string{"agency"}),
	}
}

func (m *Metrics) IncTransition(from, to, signal string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, signal).Inc()
}

func (m *Metrics) IncRevocation(agency string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(agency).Inc()
}

func (m *Metrics) AddRecords(agency string, n int) {
	if m == nil {
		return
	}
	m.RecordsFetched.WithLabelValues(agency).Add(float64(n))
}

func (m *Metrics) IncUpstreamError(agency string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(agency).Inc()
}
