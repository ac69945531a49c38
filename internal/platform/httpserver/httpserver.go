package httpserver

import (
	"net/http"
	"time"

	"fiscaldoc/internal/platform/config"
)

// New builds an HTTP server with sane defaults for this project. Write
// timeout leaves room for the registry retry budget.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := cfg.RequestTimeout + 5*time.Second
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}
