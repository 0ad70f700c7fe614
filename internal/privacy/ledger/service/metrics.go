package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Reservations   *prometheus.CounterVec
	Releases       *prometheus.CounterVec
	EpsilonGranted *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_budget_reservations_total",
			Help: "Privacy budget reservation attempts, by dataset and result",
		}, []string{"dataset", "result"}),
		Releases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_budget_releases_total",
			Help: "Privacy budget allocations returned after a failed query",
		}, []string{"dataset"}),
		EpsilonGranted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_budget_epsilon_granted_total",
			Help: "Epsilon granted to requesters, by dataset",
		}, []string{"dataset"}),
	}
}

func (m *Metrics) IncReservation(dataset, result string) {
	m.Reservations.WithLabelValues(dataset, result).Inc()
}

func (m *Metrics) IncRelease(dataset string) {
	m.Releases.WithLabelValues(dataset).Inc()
}

func (m *Metrics) AddEpsilon(dataset string, eps float64) {
	m.EpsilonGranted.WithLabelValues(dataset).Add(eps)
}
