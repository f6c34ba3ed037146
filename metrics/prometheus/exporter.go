package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AltairaLabs/IntakeKit/logger"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Exporter serves Prometheus metrics over HTTP.
type Exporter struct {
	server *http.Server
}

// NewExporter creates an exporter listening on addr (e.g., ":9090").
func NewExporter(addr string) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Exporter{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		},
	}
}

// Start begins serving metrics in a background goroutine.
func (e *Exporter) Start() {
	go func() {
		logger.Info("prometheus exporter listening", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("prometheus exporter failed", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (e *Exporter) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return e.server.Shutdown(shutdownCtx)
}
