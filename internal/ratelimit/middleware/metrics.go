package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections  *prometheus.CounterVec
	CheckErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "archivegate_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter, by endpoint class.",
		}, []string{"class"}),
		CheckErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "archivegate_ratelimit_check_errors_total",
			Help: "Rate limit checks that failed and let the request through.",
		}),
	}
}
