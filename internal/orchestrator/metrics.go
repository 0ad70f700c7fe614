package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the query pipeline.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Duration      prometheus.Histogram
	RedactionWarn prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_pipeline_outcomes_total",
			Help: "Query pipeline results by outcome and the stage that decided it",
		}, []string{"outcome", "stage"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archivegate_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "archivegate_pipeline_duration_seconds",
			Help:    "Duration of a full query pipeline run including the audit write",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RedactionWarn: f.NewCounter(prometheus.CounterOpts{
			Name: "archivegate_pipeline_redaction_warnings_total",
			Help: "Responses that contained fields redacted after a detector failure",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string, stage Stage) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome, string(stage)).Inc()
	}
}

func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m != nil {
		m.Duration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncRedactionWarning() {
	if m != nil {
		m.RedactionWarn.Inc()
	}
}
