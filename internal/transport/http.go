// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/storage"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Engine exposes the live run state the handlers need.
type Engine interface {
	Status() types.RunStatus
	CurrentRunID() string
}

// HealthChecker defines the interface for readiness checking. A check
// typically issues a lightweight RPC against the target network.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Server handles HTTP requests for the benchmark engine.
type Server struct {
	engine    Engine
	store     storage.Storage
	checks    []HealthChecker
	logger    *slog.Logger
	startTime time.Time
	events    *EventServer

	// CORS configuration
	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, store storage.Storage, checks []HealthChecker, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	// Event server streams attempt results to WebSocket clients.
	events := NewEventServer(logger)
	events.Start()

	s := &Server{
		engine:    engine,
		store:     store,
		checks:    checks,
		logger:    logger,
		startTime: time.Now(),
		events:    events,
	}

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Events returns the WebSocket event server, which implements
// scheduler.Listener and can be registered on the scheduler directly.
func (s *Server) Events() *EventServer {
	return s.events
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/v1/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/v1/compare", s.corsMiddleware(s.handleCompare))
	mux.HandleFunc("/v1/ws", s.events.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleStatus returns the current run status, the active run ID and the
// number of streaming clients.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"status":         s.engine.Status(),
		"runId":          s.engine.CurrentRunID(),
		"streamClients":  s.events.ClientCount(),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// handleRuns returns run history with optional pagination.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// handleRunDetail handles GET and DELETE /v1/runs/{id}.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.DeleteRun(r.Context(), runID); err != nil {
			if strings.Contains(err.Error(), "not found") {
				s.writeJSONError(w, err.Error(), http.StatusNotFound)
				return
			}
			s.writeJSONError(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true})
		return
	}

	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if summary == nil {
		s.writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, summary)
}

// handleCompare compares the latest runs of two networks under the same
// operation and mode.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	networkA := q.Get("networkA")
	networkB := q.Get("networkB")
	operation := q.Get("operation")
	mode := types.RunMode(q.Get("mode"))

	if networkA == "" || networkB == "" {
		s.writeJSONError(w, "networkA and networkB are required", http.StatusBadRequest)
		return
	}
	if operation == "" {
		operation = "transfer"
	}
	if mode == "" {
		mode = types.ModeConcurrent
	}

	a, err := s.store.LatestByNetwork(r.Context(), networkA, operation, mode)
	if err != nil {
		s.writeJSONError(w, "Failed to look up network "+networkA+": "+err.Error(), http.StatusInternalServerError)
		return
	}
	b, err := s.store.LatestByNetwork(r.Context(), networkB, operation, mode)
	if err != nil {
		s.writeJSONError(w, "Failed to look up network "+networkB+": "+err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil || b == nil {
		missing := networkA
		if a != nil {
			missing = networkB
		}
		s.writeJSONError(w, "No completed run for network "+missing, http.StatusNotFound)
		return
	}

	comparison, err := metrics.Compare(*a, *b)
	if err != nil {
		s.writeJSONError(w, "Comparison failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, comparison)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := []ReadinessCheck{}
	allHealthy := true

	for _, c := range s.checks {
		start := time.Now()
		err := c.Check(r.Context())
		latency := time.Since(start).Milliseconds()

		check := ReadinessCheck{
			Name:      c.Name(),
			LatencyMs: latency,
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		} else {
			check.Status = "ok"
		}
		results = append(results, check)
	}

	response := map[string]interface{}{
		"ready":  allHealthy,
		"checks": results,
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
