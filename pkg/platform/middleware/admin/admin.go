// Package admin gates operator endpoints behind a shared secret header.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/httputil"
	request "archivegate/pkg/platform/middleware/request"
)

const HeaderAdminToken = "X-Admin-Token"

var errAdminToken = dErrors.New(dErrors.CodeUnauthorized, "admin token required")

func tokenMatches(expected, got string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// RequireAdminToken rejects requests whose X-Admin-Token differs from
// expected. An empty expected value disables the guarded routes.
func RequireAdminToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(expected, r.Header.Get(HeaderAdminToken)) {
				logger.WarnContext(r.Context(), "admin token mismatch",
					"request_id", request.GetRequestID(r.Context()),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, errAdminToken)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
