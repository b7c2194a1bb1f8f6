// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     metrics
// Description: HTTP exporter for metrics and readiness
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msto63/bell/pkg/core/cache"
	"github.com/msto63/bell/pkg/core/health"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	healthCheckTimeout       = 5 * time.Second

	// probes faster than this share one backend check
	healthCacheTTL = 5 * time.Second
	healthCacheKey = "report"
)

// Exporter serves /metrics and /health on a private registry
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	health   *health.Registry
	reports  *cache.Cache[*health.Report]
	mux      *http.ServeMux

	mu     sync.Mutex
	server *http.Server
}

// NewExporter creates an exporter with the session metrics and Go runtime collectors.
// checks may be nil, in which case /health always reports ok.
func NewExporter(addr string, checks *health.Registry) (*Exporter, *Metrics) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := &Exporter{
		addr:     addr,
		registry: reg,
		health:   checks,
		reports:  cache.New[*health.Report](cache.Config{MaxItems: 1, TTL: healthCacheTTL}),
	}
	e.mux = http.NewServeMux()
	e.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	e.mux.HandleFunc("/health", e.handleHealth)
	return e, m
}

// Registry returns the underlying Prometheus registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handle mounts an extra handler, e.g. the event websocket, on the exporter's mux
func (e *Exporter) Handle(pattern string, h http.Handler) {
	e.mux.Handle(pattern, h)
}

// Handler returns the exporter's mux
func (e *Exporter) Handler() http.Handler {
	return e.mux
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if e.health == nil || e.health.Len() == 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}

	report, _ := e.reports.GetOrSet(healthCacheKey, func() (*health.Report, error) {
		return e.health.CheckWithTimeout(r.Context(), healthCheckTimeout), nil
	})
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// Start serves until Shutdown. It returns http.ErrServerClosed on graceful shutdown.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.server != nil {
		e.mu.Unlock()
		return nil
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           e.mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	srv := e.server
	e.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server == nil {
		return nil
	}
	err := e.server.Shutdown(ctx)
	e.server = nil
	return err
}
