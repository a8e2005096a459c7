// Package api provides the HTTP API for observing and controlling a run.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/yardsale/internal/engine"
	"github.com/talgya/yardsale/internal/persistence"
)

// Server serves the run state over HTTP.
type Server struct {
	Ctl      *engine.Controller
	DB       *persistence.DB // Optional; nil disables /runs and /snapshot
	Port     int
	AdminKey string        // Bearer token for POST endpoints. Empty = POST disabled.
	Cadence  time.Duration // Used by /start when the request names none

	hub          *Hub
	adminLimiter *RateLimiter
}

// NewServer wires a server to ctl and registers its stream hub as a frame hook.
func NewServer(ctl *engine.Controller, db *persistence.DB, port int, adminKey string, cadence time.Duration) *Server {
	s := &Server{
		Ctl:          ctl,
		DB:           db,
		Port:         port,
		AdminKey:     adminKey,
		Cadence:      cadence,
		hub:          NewHub(),
		adminLimiter: NewRateLimiter(60, time.Minute),
	}
	ctl.OnFrame(s.hub.Publish)
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/wealth", s.handleWealth)
	mux.HandleFunc("/api/v1/trace", s.handleTrace)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/start", s.adminOnly(s.handleStart))
	mux.HandleFunc("/api/v1/stop", s.adminOnly(s.handleStop))
	mux.HandleFunc("/api/v1/reset", s.adminOnly(s.handleReset))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly restricts a handler to authenticated, rate-limited POSTs.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	limited := RateLimitMiddleware(s.adminLimiter, next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limited(w, r)
	}
}

func (s *Server) status() map[string]any {
	f := s.Ctl.Frame()
	p := s.Ctl.Params()
	return map[string]any{
		"run_id":         f.RunID,
		"running":        s.Ctl.Running(),
		"interval_ms":    s.Ctl.Interval().Milliseconds(),
		"iterations":     f.Iterations,
		"running_total":  f.RunningTotal,
		"expected_total": f.ExpectedTotal,
		"tracked":        f.Tracked,
		"params":         p,
		"stats":          f.Stats,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleWealth(w http.ResponseWriter, r *http.Request) {
	f := s.Ctl.Frame()
	writeJSON(w, map[string]any{
		"run_id": f.RunID,
		"agents": f.Agents,
		"wealth": f.Wealth,
	})
}

// handleTrace returns the tracked agent's history. ?since=N skips the first N points.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	f := s.Ctl.Frame()
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = min(n, len(f.TraceX))
	}
	writeJSON(w, map[string]any{
		"run_id":  f.RunID,
		"tracked": f.Tracked,
		"x":       f.TraceX[since:],
		"y":       f.TraceY[since:],
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Ctl.Frame().Stats)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, s.Ctl.Frame)
}

type startRequest struct {
	engine.Params
	CadenceMs *int `json:"cadence_ms,omitempty"`
}

// decodeParams overlays an optional JSON body on base. An empty body keeps base.
func decodeParams(r *http.Request, base engine.Params) (engine.Params, *int, error) {
	req := startRequest{Params: base}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return base, nil, err
	}
	return req.Params, req.CadenceMs, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	p, cadenceMs, err := decodeParams(r, s.Ctl.Params())
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cadence := s.Cadence
	if cadenceMs != nil {
		if *cadenceMs < 0 {
			http.Error(w, "cadence_ms must not be negative", http.StatusBadRequest)
			return
		}
		cadence = time.Duration(*cadenceMs) * time.Millisecond
	}

	started, err := s.Ctl.Start(p, cadence)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("start requested", "started", started, "cadence", cadence)
	resp := s.status()
	resp["started"] = started
	writeJSON(w, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.Ctl.Stop()
	resp := s.status()
	resp["stopped"] = stopped
	writeJSON(w, resp)
}

// handleReset re-initialises from defaults, or from the posted parameters.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, _, err := decodeParams(r, engine.DefaultParams())
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Ctl.Reset(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.DB.SaveState(s.Ctl); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	f := s.Ctl.Frame()
	writeJSON(w, map[string]any{
		"run_id":     f.RunID,
		"iterations": f.Iterations,
		"message":    "snapshot saved",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
