package service

import (
	"archivegate/internal/redaction/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Redactions       *prometheus.CounterVec
	DetectorFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Redactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_redaction_fields_total",
			Help: "Fields redacted, by strongest action applied",
		}, []string{"action"}),
		DetectorFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "archivegate_redaction_detector_failures_total",
			Help: "Records redacted fail-closed after a detector error",
		}),
	}
}

func (m *Metrics) IncRedactions(action models.Action) {
	m.Redactions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) IncDetectorFailures() {
	m.DetectorFailures.Inc()
}
