package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves the registry over HTTP for Prometheus scraping.
type Exporter struct {
	registry *Registry
	server   *http.Server
	ln       net.Listener
}

// NewExporter creates an exporter for the given registry.
func NewExporter(registry *Registry) *Exporter {
	return &Exporter{registry: registry}
}

// Start begins serving /metrics on addr. It returns once the listener is
// bound; serving continues in the background.
func (e *Exporter) Start(addr string) error {
	if e.ln != nil {
		return errors.New("metrics: exporter already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding metrics listener: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry.Registry(), promhttp.HandlerOpts{}))
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The exporter is best-effort; a failed serve loop must not
			// interfere with the run.
			_ = err
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (e *Exporter) Addr() string {
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// Stop shuts the exporter down, waiting for in-flight scrapes.
func (e *Exporter) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
