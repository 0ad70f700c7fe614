package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with the project's timeouts. Query responses
// can be large, so only the header read is bounded tightly.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
