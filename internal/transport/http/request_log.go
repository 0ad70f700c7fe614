package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"archivegate/internal/platform/metrics"
	platformredis "archivegate/internal/platform/redis"
	"archivegate/pkg/platform/middleware/auth"
	request "archivegate/pkg/platform/middleware/request"
	"archivegate/pkg/requestcontext"
)

const requestLogTimeout = time.Second

// RequestLogger persists one entry per request.
type RequestLogger interface {
	Append(ctx context.Context, e platformredis.RequestEntry) error
}

// requestLog writes every request to the per-day request log. The username
// is the requester the bearer token resolves to, if any. Failures are logged
// and counted but never change the response.
func requestLog(sink RequestLogger, tokens auth.TokenValidator, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := request.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			ctx := r.Context()
			entry := platformredis.RequestEntry{
				Timestamp: requestcontext.Now(ctx).Unix(),
				Method:    r.Method,
				Path:      r.URL.Path,
				IP:        requestcontext.ClientIP(ctx),
				Status:    rec.Status,
				UserAgent: r.UserAgent(),
				RequestID: requestcontext.RequestID(ctx),
			}
			if entry.UserAgent == "" {
				entry.UserAgent = "Unknown"
			}
			if header := r.Header.Get("Authorization"); header != "" && tokens != nil {
				if scope, err := tokens.Validate(ctx, header); err == nil {
					entry.Username = scope.RequesterID
				}
			}

			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestLogTimeout)
			defer cancel()
			if err := sink.Append(wctx, entry); err != nil {
				m.IncRequestLogFailures()
				logger.WarnContext(ctx, "request log write failed",
					"request_id", entry.RequestID,
					"error", err,
				)
			}
		})
	}
}
