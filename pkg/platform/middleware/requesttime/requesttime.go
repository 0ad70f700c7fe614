// Package requesttime pins one "now" per request so audit entries, budget
// windows and cursors written during a request agree on the time.
package requesttime

import (
	"net/http"
	"time"

	"archivegate/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injectable clock for tests.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
