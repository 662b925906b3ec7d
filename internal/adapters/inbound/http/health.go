// Package http provides the inbound HTTP adapters for the log feed: health
// probes and the log list API.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl-logfeed/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the HTTP server.
type HealthServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	// Logger for the server
	Logger *slog.Logger

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. Page fetches run inside the request,
	// so this must exceed the node client timeout.
	WriteTimeout time.Duration
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// RouteRegistrar adds routes to the server mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// HealthServer serves the health probes and any mounted API routes.
//
// Endpoints:
//   - /health/ready  - 200 once the first page of the selected network is loaded
//   - /health/live   - 200 until the service is torn down
//   - /health        - combined status for monitoring, including the live feed
//
// On SIGTERM the caller sets shuttingDown and every probe answers 503 until
// the server is shut down.
type HealthServer struct {
	server       *http.Server
	mux          *http.ServeMux
	handler      http.Handler
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthServer creates a new health server.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *HealthServer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 60 * time.Second
	}

	hs := &HealthServer{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
	}

	hs.mux = http.NewServeMux()
	hs.mux.HandleFunc("/health/ready", hs.handleReady)
	hs.mux.HandleFunc("/health/live", hs.handleLive)
	hs.mux.HandleFunc("/health", hs.handleHealth)

	hs.handler = withRequestLogging(hs.mux, hs.logger)

	hs.server = &http.Server{
		Addr:         config.Addr,
		Handler:      hs.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return hs
}

// Mount registers additional routes. It must be called before Start.
func (hs *HealthServer) Mount(r RouteRegistrar) {
	r.RegisterRoutes(hs.mux)
}

// Handler returns the server's root handler.
func (hs *HealthServer) Handler() http.Handler {
	return hs.handler
}

// Start begins listening for requests.
// This is non-blocking - it starts the server in a goroutine.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Info("starting http server", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if hs.checker.IsReady() {
		respondJSON(hs.logger, w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (hs *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if hs.checker.IsHealthy() {
		respondJSON(hs.logger, w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hs.shuttingDown.Load() {
		respondJSON(hs.logger, w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"liveFeed":     false,
			"shuttingDown": true,
		})
		return
	}

	ready := hs.checker.IsReady()
	healthy := hs.checker.IsHealthy()
	liveFeed := hs.checker.HasLiveFeed()
	status := "ok"
	statusCode := http.StatusOK

	switch {
	case !ready || !healthy:
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	case !liveFeed:
		// History still loads without a live subscription.
		status = "degraded"
	}

	respondJSON(hs.logger, w, statusCode, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"liveFeed":     liveFeed,
		"shuttingDown": false,
	})
}

func respondJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func respondError(logger *slog.Logger, w http.ResponseWriter, status int, message string) {
	respondJSON(logger, w, status, map[string]string{"error": message})
}
