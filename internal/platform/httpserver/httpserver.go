// Package httpserver builds the API server with this project's defaults.
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server. Timeouts are deliberately short: the ingest
// endpoint lands a row and returns, it never waits on pipeline work.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
