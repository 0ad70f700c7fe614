package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Exported    prometheus.Counter
	Dropped     *prometheus.CounterVec
	CircuitOpen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Exported: f.NewCounter(prometheus.CounterOpts{
			Name: "archivegate_audit_export_published_total",
			Help: "Audit entries delivered to the export sink",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_audit_export_dropped_total",
			Help: "Audit entries dropped before export, by reason",
		}, []string{"reason"}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "archivegate_audit_export_circuit_open",
			Help: "Export circuit state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) AddExported(n int) {
	m.Exported.Add(float64(n))
}

func (m *Metrics) IncDropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddDropped(reason string, n int) {
	if n > 0 {
		m.Dropped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
