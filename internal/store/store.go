// Package store defines the bar-storage interface and its parquet and
// SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"backscan/internal/domain"
)

// ErrNoData reports that storage holds no bars for the requested symbol.
// Callers treat it as "symbol unavailable", not as a hard failure.
var ErrNoData = errors.New("store: no data for symbol")

// BarStore persists and retrieves daily OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the given market.
	// Existing bars with the same symbol and timestamp are replaced.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], ordered by timestamp ascending. A symbol with no
	// stored data returns ErrNoData.
	ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given
	// market, sorted ascending.
	ListSymbols(ctx context.Context, market string) ([]string, error)

	// LastClose returns the most recent close at or before asOf.
	// No bar at or before asOf returns ErrNoData.
	LastClose(ctx context.Context, symbol, market string, asOf time.Time) (float64, error)
}
