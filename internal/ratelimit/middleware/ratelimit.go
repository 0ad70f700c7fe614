// Package middleware limits clients per endpoint class with a sliding window.
// Store failures fail open: the limiter protects capacity, not data.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"archivegate/internal/ratelimit/models"
	"archivegate/pkg/platform/httputil"
	"archivegate/pkg/platform/middleware/metadata"
	"archivegate/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	limiter  Limiter
	policy   models.Policy
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	disabled bool
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		if now != nil {
			m.now = now
		}
	}
}

func New(limiter Limiter, policy models.Policy, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if !policy.Enabled() {
		m.disabled = true
	}
	if m.disabled && m.logger != nil {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

type rateLimitExceeded struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// PerClient limits each client IP within class.
func (m *Middleware) PerClient(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}
			result, err := m.limiter.Allow(ctx, models.Key(class, ip), m.policy.Requests, m.policy.Window)
			if err != nil {
				if m.logger != nil {
					m.logger.ErrorContext(ctx, "rate limit check failed", "class", class, "error", err)
				}
				if m.metrics != nil {
					m.metrics.CheckErrors.Inc()
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.Rejections.WithLabelValues(class).Inc()
				}
				retry := result.RetryAfter(m.now())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				httputil.WriteJSON(w, http.StatusTooManyRequests, rateLimitExceeded{
					Error:            "rate_limit_exceeded",
					ErrorDescription: "too many requests from this client, try again later",
					RetryAfter:       retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
