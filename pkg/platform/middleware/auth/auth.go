// Package auth guards the budget and operator read endpoints. Query requests do not pass
// through here; the pipeline validates their token itself so that denials
// are audited.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"archivegate/internal/auth/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/httputil"
	request "archivegate/pkg/platform/middleware/request"
	"archivegate/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to its scope.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*models.Scope, error)
}

type scopeKey struct{}

// ScopeFrom returns the scope Authenticate stored, if any.
func ScopeFrom(ctx context.Context) (*models.Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*models.Scope)
	return s, ok
}

// Authenticate admits any request whose bearer token validates and stores
// the scope and requester on the context.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			scope, err := validator.Validate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				requestID := request.GetRequestID(ctx)
				if dErrors.HasCode(err, dErrors.CodeInternal) {
					logger.ErrorContext(ctx, "token validation failed", "error", err, "request_id", requestID)
				} else {
					logger.WarnContext(ctx, "unauthorized access", "error", err, "request_id", requestID)
				}
				httputil.WriteError(w, err)
				return
			}
			ctx = requestcontext.WithRequesterID(ctx, scope.RequesterID)
			ctx = context.WithValue(ctx, scopeKey{}, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			scope, ok := ScopeFrom(ctx)
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !scope.HasRole(role) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"requester_id", scope.RequesterID,
					"role", role,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role "+role+" required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
