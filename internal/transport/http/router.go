// Package httptransport is the thin HTTP adapter over the query pipeline,
// the audit trail, the budget ledger and the crawler admin operations.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	authmodels "archivegate/internal/auth/models"
	crawlermodels "archivegate/internal/crawler/models"
	"archivegate/internal/platform/metrics"
	"archivegate/pkg/platform/middleware/admin"
	"archivegate/pkg/platform/middleware/auth"
	"archivegate/pkg/platform/middleware/metadata"
	request "archivegate/pkg/platform/middleware/request"
	"archivegate/pkg/platform/middleware/requesttime"
)

// Deps wires the router. Query, Audit and Tokens are required; the rest
// switch their routes or middleware off when nil. RateLimit wraps every /v1
// route.
type Deps struct {
	Query      QueryService
	Audit      AuditService
	Budgets    BudgetService
	Crawler    CrawlerAdmin
	Agencies   []crawlermodels.Agency
	Tokens     auth.TokenValidator
	AdminToken string
	RequestLog RequestLogger
	RateLimit  func(http.Handler) http.Handler
	Checks     map[string]HealthCheck
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	r.Use(instrument(d.Metrics))
	if d.RequestLog != nil {
		r.Use(requestLog(d.RequestLog, d.Tokens, logger, d.Metrics))
	}

	r.Get("/health", HandleHealth(d.Checks))
	r.Get("/ping", handlePing)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	queries := NewQueryHandler(d.Query, logger)
	audits := NewAuditHandler(d.Audit, logger)

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		r.Post("/query", queries.HandleQuery)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(d.Tokens, logger))
			if d.Budgets != nil {
				r.Get("/budget/{dataset}", NewBudgetHandler(d.Budgets, logger).HandleGet)
			}
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(authmodels.RoleAuditor, logger))
				r.Get("/audit/verify", audits.HandleVerify)
				r.Get("/audit/head", audits.HandleHead)
			})
		})

		if d.Crawler != nil {
			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdminToken(d.AdminToken, logger))
				r.Post("/admin/crawler/{agency}/rotate", NewCrawlerHandler(d.Crawler, d.Agencies, logger).HandleRotate)
			})
		}
	})
	return r
}

// instrument records request counts and latency by route pattern so that
// path parameters do not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := request.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(route, strconv.Itoa(rec.Status/100)+"xx", time.Since(start).Seconds())
		})
	}
}
