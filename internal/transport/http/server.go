// Package httptransport builds the store daemon's HTTP server from its
// loaded configuration.
package httptransport

import (
	"net/http"
	"time"

	"example.com/healthstore/internal/config"
)

// idleTimeout bounds how long keep-alive connections linger between requests.
const idleTimeout = 60 * time.Second

// NewServer returns the daemon's *http.Server wired with the configured
// address and timeouts.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}
}
