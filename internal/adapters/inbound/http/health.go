// Package http provides the pusher's inbound HTTP adapter: health probes
// and an operator status endpoint.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/oracle-pusher/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the health server.
type HealthServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	// Logger for the health server
	Logger *slog.Logger

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// HealthServer serves the pusher's probes and status.
//
// Endpoints:
//   - /health/ready  - 200 once a cycle has fetched quotes successfully
//   - /health/live   - 200 while quote fetches keep succeeding
//   - /health        - combined health status for monitoring
//   - /status        - in-flight networks and recent submission outcomes
//
// All probes return 503 once shuttingDown is set, so a replacement task
// takes over before this one stops submitting.
type HealthServer struct {
	server       *http.Server
	checker      inbound.HealthChecker
	status       inbound.StatusReporter
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthServer creates a new health server. status may be nil, in which
// case /status is not served.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, status inbound.StatusReporter, shuttingDown *atomic.Bool) *HealthServer {
	defaults := HealthServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	hs := &HealthServer{
		checker:      checker,
		status:       status,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", hs.handleReady)
	mux.HandleFunc("GET /health/live", hs.handleLive)
	mux.HandleFunc("GET /health", hs.handleHealth)
	if status != nil {
		mux.HandleFunc("GET /status", hs.handleStatus)
	}

	hs.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return hs
}

// Handler returns the server's routes, for tests and embedding.
func (hs *HealthServer) Handler() http.Handler {
	return hs.server.Handler
}

// Start begins listening for health check requests.
// This is non-blocking - it starts the server in a goroutine.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Info("starting health server", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the health server.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

type probeResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status       string   `json:"status"`
	Ready        bool     `json:"ready"`
	Healthy      bool     `json:"healthy"`
	ShuttingDown bool     `json:"shuttingDown"`
	InFlight     []string `json:"inFlight,omitempty"`
}

// probe answers a single-condition probe. Every probe fails while shutting
// down.
func (hs *HealthServer) probe(w http.ResponseWriter, pass bool, passStatus, failStatus string) {
	switch {
	case hs.shuttingDown.Load():
		hs.respondJSON(w, http.StatusServiceUnavailable, probeResponse{Status: "shutting_down"})
	case pass:
		hs.respondJSON(w, http.StatusOK, probeResponse{Status: passStatus})
	default:
		hs.respondJSON(w, http.StatusServiceUnavailable, probeResponse{Status: failStatus})
	}
}

// handleReady passes once a cycle has fetched quotes.
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	hs.probe(w, hs.checker.IsReady(), "ready", "not_ready")
}

// handleLive fails when the price source has been failing for several
// intervals, so the pusher gets restarted.
func (hs *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	hs.probe(w, hs.checker.IsHealthy(), "healthy", "unhealthy")
}

// handleHealth reports both probes plus the networks with a submission
// outstanding.
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hs.shuttingDown.Load() {
		hs.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down", ShuttingDown: true})
		return
	}

	resp := healthResponse{
		Status:  "ok",
		Ready:   hs.checker.IsReady(),
		Healthy: hs.checker.IsHealthy(),
	}
	if hs.status != nil {
		resp.InFlight = hs.status.InFlightNetworks()
	}

	code := http.StatusOK
	if !resp.Ready || !resp.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	hs.respondJSON(w, code, resp)
}

func (hs *HealthServer) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode JSON response", "error", err)
	}
}
