// Package api exposes an operator-facing HTTP surface for a long-running
// process embedding a gelclient.Client: pool stats, a liveness probe, the
// redacted effective config, and a Prometheus /metrics endpoint. None of
// this is part of the driver's caller-facing surface (spec.md §6.3) — it
// is ambient tooling for the example binary in cmd/gelclient-demo.
package api

import (
	"context"
	"fmt"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geldb/gelclient/internal/config"
	"github.com/geldb/gelclient/internal/metrics"
	"github.com/geldb/gelclient/internal/pool"
)

// Server is the operator-facing REST API and metrics server.
type Server struct {
	pool       *pool.Pool
	metrics    *metrics.Collector
	cfg        config.Config
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new API server wrapping a client's pool and metrics
// collector.
func NewServer(p *pool.Pool, m *metrics.Collector, cfg config.Config) *Server {
	return &Server{
		pool:      p,
		metrics:   m,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Start starts the HTTP API server on the given port, bound to localhost
// unless bind is non-empty.
func (s *Server) Start(bind string, port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")
	r.HandleFunc("/pool", s.poolHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] operator API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) poolHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

// healthHandler reports healthy iff the pool can hand back a connection
// within the configured wait_until_available window; it does not issue a
// query, matching spec.md §7's "idle-session timeout ... triggers silent
// reconnect" — a held-but-stale connection is not this endpoint's concern.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitUntilAvailable)
	defer cancel()

	lc, err := s.pool.Acquire(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	lc.Release()

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
