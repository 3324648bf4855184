// Package api provides the read-only JSON API over collected dialogue stats.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/stats"
)

// RouteFunc builds a handler over the loaded stats table. Registered routes
// all serve from the same immutable snapshot.
type RouteFunc func(table *saver.Table) http.HandlerFunc

// Server is the stats API server. It serves derived views of a table
// snapshot loaded once at construction time.
type Server struct {
	table     *saver.Table
	logger    *slog.Logger
	mux       *http.ServeMux
	startTime time.Time
}

// NewServer creates a new API server over the given table snapshot.
func NewServer(table *saver.Table, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = &saver.Table{}
	}

	s := &Server{
		table:     table,
		logger:    logger,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("GET /api/v1/stats/transition-counts", s.getTransitionCounts)
	s.mux.HandleFunc("GET /api/v1/stats/transition-probs", s.getTransitionProbs)
	s.mux.HandleFunc("GET /api/v1/stats/events", s.exportEvents)
	s.mux.HandleFunc("GET /api/health", s.healthCheck)

	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Handle registers an additional route over the same table snapshot.
// The pattern uses ServeMux syntax, e.g. "GET /api/v1/stats/visits".
func (s *Server) Handle(pattern string, fn RouteFunc) {
	s.mux.HandleFunc(pattern, fn(s.table))
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Only allow localhost origins
		if origin != "" {
			if strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1") {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getTransitionCounts returns raw node transition counts.
func (s *Server) getTransitionCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := stats.TransitionCounts(s.table)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}
	s.writeJSON(w, counts)
}

// getTransitionProbs returns normalized transition probabilities.
func (s *Server) getTransitionProbs(w http.ResponseWriter, r *http.Request) {
	probs, err := stats.TransitionProbs(s.table)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}
	s.writeJSON(w, probs)
}

// healthCheck returns server health status.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Rows:      s.table.Len(),
	})
}

// writeStatsError maps derivation errors to JSON error responses. Missing
// required columns are a client-visible condition, not a server fault.
func (s *Server) writeStatsError(w http.ResponseWriter, err error) {
	var missing *stats.MissingColumnsError
	if errors.As(err, &missing) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:          missing.Error(),
			MissingColumns: missing.Columns,
		})
		return
	}
	s.logger.Error("failed to derive stats", "error", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// API response types

// HealthResponse is the API response for health status.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Rows      int       `json:"rows"`
}

// ErrorResponse is the API response for derivation failures.
type ErrorResponse struct {
	Error          string   `json:"error"`
	MissingColumns []string `json:"missing_columns,omitempty"`
}
