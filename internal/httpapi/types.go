// Package httpapi exposes the scan engine over HTTP: strategy discovery,
// asynchronous scan and backtest runs with SSE progress, and bar series
// for charting.
package httpapi

import (
	"time"

	"backscan/internal/domain"
	"backscan/internal/runs"
	"backscan/internal/strategy"
)

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// StrategiesResponse lists the registered strategies.
type StrategiesResponse struct {
	Strategies []strategy.Definition `json:"strategies"`
}

// RunStartedResponse acknowledges an accepted scan or backtest request.
type RunStartedResponse struct {
	RunID string `json:"run_id"`
}

// RunsResponse lists in-memory runs, newest first.
type RunsResponse struct {
	Runs []runs.Run `json:"runs"`
}

// HistoryResponse lists persisted summaries of finished runs.
type HistoryResponse struct {
	Runs []runs.Summary `json:"runs"`
}

// SymbolsResponse lists the symbols stored for one market.
type SymbolsResponse struct {
	Market  string   `json:"market"`
	Symbols []string `json:"symbols"`
}

// BarsResponse holds a daily bar series for one symbol.
type BarsResponse struct {
	Symbol string       `json:"symbol"`
	Market string       `json:"market"`
	Bars   []domain.Bar `json:"bars"`
}
