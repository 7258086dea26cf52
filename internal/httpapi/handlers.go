package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"backscan/internal/domain"
	"backscan/internal/runs"
	"backscan/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StrategiesResponse{Strategies: s.strategies.Definitions()})
}

// handleScan validates the request synchronously, then runs the scan in the
// background under a run id. Progress is observable via the events endpoint.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.strategies.Get(req.StrategyKey); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.StrategyKey))
		return
	}

	// The run outlives the request, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	run := s.runs.Begin(runs.KindScan, req.StrategyKey, cancel)
	go func() {
		defer cancel()
		rep, err := s.scanner.Scan(ctx, req, func(p domain.Progress) {
			s.runs.ReportProgress(run.ID, p)
		})
		if err != nil {
			s.runs.Fail(run.ID, err)
			return
		}
		s.runs.FinishScan(run.ID, rep)
	}()

	writeJSON(w, RunStartedResponse{RunID: run.ID})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req domain.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.strategies.Get(req.StrategyKey); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.StrategyKey))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := s.runs.Begin(runs.KindBacktest, req.StrategyKey, cancel)
	go func() {
		defer cancel()
		rep, err := s.scanner.Backtest(ctx, req, func(p domain.Progress) {
			s.runs.ReportProgress(run.ID, p)
		})
		if err != nil {
			s.runs.Fail(run.ID, err)
			return
		}
		s.runs.FinishBacktest(run.ID, rep)
	}()

	writeJSON(w, RunStartedResponse{RunID: run.ID})
}

// handlePreview runs one symbol synchronously and returns the raw strategy
// output. It is the endpoint behind chart views.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	rep, err := s.scanner.Preview(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, RunsResponse{Runs: s.runs.List()})
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HistoryResponse{Runs: s.runs.History()})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := s.runs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	writeJSON(w, run)
}

// handleRunEvents streams run events as SSE: the current status first, then
// progress and the final status as they happen. The stream ends when the run
// finishes or the client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	subID, ch, ok := s.runs.Subscribe(id, 256)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	defer s.runs.Unsubscribe(id, subID)

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("encoding run event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runs.Cancel(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s is not running", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	symbols, err := s.store.ListSymbols(r.Context(), market)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("listing symbols: %v", err))
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, SymbolsResponse{Market: market, Symbols: symbols})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	symbol := strings.ToUpper(r.PathValue("symbol"))

	start, err := parseDateParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start: %v", err))
		return
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end: %v", err))
		return
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	bars, err := s.store.ReadBars(r.Context(), symbol, market, start, end)
	if err != nil {
		if errors.Is(err, store.ErrNoData) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no bars for %s/%s", symbol, market))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading bars: %v", err))
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, BarsResponse{Symbol: symbol, Market: market, Bars: bars})
}

// writeDomainError maps engine error types to HTTP statuses: bad requests
// to 400, missing data to 404, anything else to 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	var dErr *domain.DataUnavailableError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &dErr):
		writeError(w, http.StatusNotFound, dErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseDateParam reads an optional YYYY-MM-DD query value. Absent values
// parse as the zero time.
func parseDateParam(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}
