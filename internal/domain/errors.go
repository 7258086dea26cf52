package domain

import (
	"fmt"
	"time"
)

// The four error kinds the engine distinguishes. Request-level validation
// aborts before any work starts; everything else is recorded per symbol or
// per trade and never aborts a batch.

// ValidationError reports a malformed request, or a proposal that references
// price data the series does not contain.
type ValidationError struct {
	Symbol string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("validation: %s: %s", e.Symbol, e.Msg)
	}
	return "validation: " + e.Msg
}

// DataUnavailableError reports a symbol with no stored price data. The
// symbol is skipped and the scan continues.
type DataUnavailableError struct {
	Symbol string
	Market string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no data for %s/%s", e.Market, e.Symbol)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// SimulationError reports a degenerate trade (non-positive size or fill).
// The trade is skipped with its reason recorded; the run continues.
type SimulationError struct {
	Symbol    string
	EntryTime time.Time
	Msg       string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation: %s %s: %s",
		e.Symbol, e.EntryTime.Format("2006-01-02"), e.Msg)
}

// StrategyExecutionError reports a strategy run that returned an error or
// panicked. The symbol is recorded as failed; the scan continues.
type StrategyExecutionError struct {
	Strategy string
	Symbol   string
	Err      error
}

func (e *StrategyExecutionError) Error() string {
	return fmt.Sprintf("strategy %s failed for %s: %v", e.Strategy, e.Symbol, e.Err)
}

func (e *StrategyExecutionError) Unwrap() error { return e.Err }
