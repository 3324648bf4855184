package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/stats"
	"github.com/deeppavlovteam/dialog-flow-node-stats/web"
)

// Server serves the embedded web dashboard, live JSON stats endpoints, and
// the WebSocket channel. Unlike the API server it reloads the table from
// storage on every request, so the dashboard always reflects current data.
type Server struct {
	loader Loader
	hub    *Hub
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a dashboard server. The hub must be running (Hub.Run)
// for WebSocket clients to receive pushes.
func NewServer(loader Loader, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		loader: loader,
		hub:    hub,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/v1/stats/transition-counts", s.getTransitionCounts)
	s.mux.HandleFunc("GET /api/v1/stats/transition-probs", s.getTransitionProbs)
	s.mux.HandleFunc("GET /api/ws", hub.Handler())
	s.mux.Handle("/", web.Handler())

	return s
}

// Handler returns the HTTP handler for the dashboard.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) getTransitionCounts(w http.ResponseWriter, r *http.Request) {
	table, err := s.loader(r.Context())
	if err != nil {
		s.logger.Error("failed to load stats table", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	counts, err := stats.TransitionCounts(table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, counts)
}

func (s *Server) getTransitionProbs(w http.ResponseWriter, r *http.Request) {
	table, err := s.loader(r.Context())
	if err != nil {
		s.logger.Error("failed to load stats table", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	probs, err := stats.TransitionProbs(table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, probs)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
