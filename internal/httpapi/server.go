package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"backscan/internal/runs"
	"backscan/internal/scan"
	"backscan/internal/store"
	"backscan/internal/strategy"
)

// Server serves the scan engine HTTP API.
type Server struct {
	scanner    *scan.Scanner
	strategies *strategy.Registry
	runs       *runs.Registry
	store      store.BarStore
	log        *slog.Logger
}

// NewServer creates an HTTP server over the given engine components.
func NewServer(
	scanner *scan.Scanner,
	strategies *strategy.Registry,
	runReg *runs.Registry,
	barStore store.BarStore,
	log *slog.Logger,
) *Server {
	return &Server{
		scanner:    scanner,
		strategies: strategies,
		runs:       runReg,
		store:      barStore,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("POST /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/history", s.handleRunHistory)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/symbols/{market}", s.handleSymbols)
	mux.HandleFunc("GET /api/bars/{market}/{symbol}", s.handleBars)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
