package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/geldb/gelclient/internal/config"
	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/metrics"
	"github.com/geldb/gelclient/internal/pool"
)

func pipeDialer(t *testing.T) func(ctx context.Context) (*conn.Connection, error) {
	t.Helper()
	return func(ctx context.Context) (*conn.Connection, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		go func() {
			buf := make([]byte, 4096)
			for {
				if _, err := server.Read(buf); err != nil {
					return
				}
			}
		}()
		return conn.New(client), nil
	}
}

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	p := pool.New(pool.Config{
		Dial:           pipeDialer(t),
		MaxConcurrency: 4,
		AcquireTimeout: time.Second,
	})
	t.Cleanup(p.Close)

	cfg := config.Config{
		Host:               "localhost",
		Database:           "main",
		Password:           "secret123",
		WaitUntilAvailable: time.Second,
	}

	s := NewServer(p, metrics.New(), cfg)

	mr := mux.NewRouter()
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")
	mr.HandleFunc("/config", s.configHandler).Methods("GET")
	mr.HandleFunc("/pool", s.poolHandler).Methods("GET")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")

	return s, mr
}

func TestStatusEndpoint(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := result["go_version"]; !ok {
		t.Error("expected go_version in status response")
	}
}

func TestConfigEndpointRedactsPassword(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/config", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var result config.Config
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Password == "secret123" {
		t.Error("config endpoint leaked the plaintext password")
	}
	if result.Password != "***REDACTED***" {
		t.Errorf("expected redacted password marker, got %q", result.Password)
	}
}

func TestPoolEndpoint(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/pool", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats pool.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.MaxConns != 4 {
		t.Errorf("expected max_connections=4, got %d", stats.MaxConns)
	}
}

func TestHealthEndpointHealthyWhenAcquireSucceeds(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpointUnhealthyWhenPoolExhausted(t *testing.T) {
	p := pool.New(pool.Config{
		Dial:           pipeDialer(t),
		MaxConcurrency: 1,
		AcquireTimeout: time.Second,
	})
	t.Cleanup(p.Close)

	cfg := config.Config{
		Host:               "localhost",
		Database:           "main",
		WaitUntilAvailable: 10 * time.Millisecond,
	}
	s := NewServer(p, metrics.New(), cfg)

	mr := mux.NewRouter()
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Hold the pool's single connection so /health can't acquire one.
	lc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lc.Release()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when pool is exhausted, got %d", rr.Code)
	}
}
