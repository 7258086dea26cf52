// Package domain defines the core value types shared across the research
// engine: price bars, strategy output, trade proposals, realized trades,
// and scan/backtest requests and reports.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifiers.
const (
	MarketUS = "us"
	MarketCN = "cn"
)

// Strategy run modes.
const (
	ModePreview  = "preview"
	ModeScan     = "scan"
	ModeBacktest = "backtest"
)

// Signal types.
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
)

// Marker chart positions. Position doubles as the side hint when the marker
// text carries no BUY/SELL token; inBar markers stay sideless.
const (
	MarkerAboveBar = "aboveBar"
	MarkerBelowBar = "belowBar"
	MarkerInBar    = "inBar"
)

// Reason tags recorded on proposals, realized trades, and skips.
const (
	ReasonSkippedOverlap = "skipped-overlap"
	ReasonForcedCloseEnd = "forced-close-at-range-end"
	ReasonFixedHolding   = "fixed-holding-approx"
	ReasonDegenerateSize = "degenerate-size"
)

// Engine defaults. Normalize on the request types fills the structural
// fields (cash, positions, sizing, holding); the rate defaults bind at the
// configuration edge only, since a zero rate is a valid request.
const (
	DefaultInitialCash    = 1_000_000.0
	DefaultPositionPct    = 0.2
	DefaultCommissionRate = 0.0003
	DefaultSlippage       = 0.0005
	DefaultMaxPositions   = 1
	DefaultHoldingBars    = 10
)

// Bar is a single daily OHLCV bar. Series are ordered by Timestamp
// ascending with unique timestamps per symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Marker is a chart-point emitted by a strategy.
type Marker struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price,omitempty"`
	Text     string    `json:"text,omitempty"`
	Position string    `json:"position,omitempty"`
	Shape    string    `json:"shape,omitempty"`
	Color    string    `json:"color,omitempty"`
}

// Side infers the trade side of a marker: BUY text or a below-bar position
// means buy, SELL text or an above-bar position means sell, anything else
// is sideless ("").
func (m Marker) Side() string {
	text := strings.ToUpper(m.Text)
	if strings.Contains(text, "BUY") || m.Position == MarkerBelowBar {
		return SignalBuy
	}
	if strings.Contains(text, "SELL") || m.Position == MarkerAboveBar {
		return SignalSell
	}
	return ""
}

// Signal is one point of a scored buy/sell signal series.
type Signal struct {
	Time  time.Time `json:"time"`
	Type  string    `json:"type"`
	Price float64   `json:"price,omitempty"`
	Score float64   `json:"score,omitempty"`
}

// TradeSpec is an explicit trade proposed by a strategy. Zero prices are
// resolved from the price series during normalization.
type TradeSpec struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	SizeHint   float64   `json:"size,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Candidate is a scan-mode pick emitted by a strategy.
type Candidate struct {
	Time       time.Time `json:"time"`
	Price      float64   `json:"price,omitempty"`
	Score      float64   `json:"score,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// OverlayPoint is one vertex of an overlay polyline.
type OverlayPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Overlay is a named line drawn over the price series (moving averages,
// channels). Carried opaquely for result consumers.
type Overlay struct {
	Name   string         `json:"name"`
	Color  string         `json:"color,omitempty"`
	Points []OverlayPoint `json:"points"`
}

// Annotation is free-form text attached to a point in time.
type Annotation struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// RunResult is the normalized output of one strategy execution. A strategy
// fills whichever slices its algorithm produces; the engine picks the
// richest available shape (trades, then signals, then markers).
type RunResult struct {
	StrategyName  string       `json:"strategy_name"`
	Markers       []Marker     `json:"markers,omitempty"`
	Overlays      []Overlay    `json:"overlays,omitempty"`
	Annotations   []Annotation `json:"annotations,omitempty"`
	StatusMessage string       `json:"status_message,omitempty"`
	Trades        []TradeSpec  `json:"trades,omitempty"`
	Signals       []Signal     `json:"signals,omitempty"`
	Candidates    []Candidate  `json:"scan_candidates,omitempty"`
}

// Proposal is a normalized trade candidate, prior to cost adjustment.
// EntryTime <= ExitTime always holds after normalization.
type Proposal struct {
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	SizeHint   float64   `json:"size_hint,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// RealizedTrade is a simulated, cost-adjusted trade.
type RealizedTrade struct {
	Symbol      string    `json:"symbol"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryFill   float64   `json:"entry_fill"`
	ExitFill    float64   `json:"exit_fill"`
	Size        float64   `json:"size"`
	GrossPnL    float64   `json:"gross_pnl"`
	NetPnL      float64   `json:"net_pnl"`
	Costs       float64   `json:"costs"`
	ReturnPct   float64   `json:"return_pct"`
	HoldingDays int       `json:"holding_days"`
	Reason      string    `json:"reason,omitempty"`
}

// SkippedTrade records a proposal that was not taken and why.
type SkippedTrade struct {
	Symbol    string    `json:"symbol"`
	EntryTime time.Time `json:"entry_time"`
	Reason    string    `json:"reason"`
}

// EquityPoint is one sample of the simulated account value.
type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Equity      float64   `json:"equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// Kpis is the derived performance record for one simulation. Ratios are
// fractions (0.15 = 15%); MaxDrawdown is relative to the running peak.
type Kpis struct {
	InitialCash      float64 `json:"initial_cash"`
	FinalEquity      float64 `json:"final_equity"`
	NetProfit        float64 `json:"net_profit"`
	ReturnPct        float64 `json:"return_pct"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	AvgPnL           float64 `json:"avg_pnl"`
	ProfitFactor     float64 `json:"profit_factor"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	TradeCount       int     `json:"trade_count"`
	SkippedCount     int     `json:"skipped_trades"`
	AvgHoldingDays   float64 `json:"avg_holding_days"`
	MaxPositionsUsed int     `json:"max_positions_used"`
}

// ScanRow is one ranked scan hit.
type ScanRow struct {
	Rank       int         `json:"rank"`
	Symbol     string      `json:"symbol"`
	Score      float64     `json:"score"`
	Confidence float64     `json:"confidence,omitempty"`
	EntryDate  time.Time   `json:"entry_date,omitzero"`
	EntryPrice float64     `json:"entry_price,omitempty"`
	Note       string      `json:"note,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Markers    []Marker    `json:"markers,omitempty"`
	Kpis       *Kpis       `json:"kpis,omitempty"`
}

// SymbolFailure records a per-symbol error that did not abort the batch.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Err    string `json:"error"`
}

// SymbolKpis pairs a symbol with its per-instrument performance record.
type SymbolKpis struct {
	Symbol string `json:"symbol"`
	Kpis   Kpis   `json:"kpis"`
}

// UniverseSummary is the cross-instrument reduction of a scan: best and
// worst performers by the rank key, plus a trade-weighted win rate.
type UniverseSummary struct {
	RankKey    string       `json:"rank_key"`
	Top        []SymbolKpis `json:"top,omitempty"`
	Bottom     []SymbolKpis `json:"bottom,omitempty"`
	WinRate    float64      `json:"win_rate"`
	TradeCount int          `json:"trade_count"`
}

// ScanReport is the complete outcome of one scan run.
type ScanReport struct {
	StrategyKey string           `json:"strategy_key"`
	Rows        []ScanRow        `json:"results"`
	Failures    []SymbolFailure  `json:"failures,omitempty"`
	Summary     *UniverseSummary `json:"summary,omitempty"`
	Cancelled   bool             `json:"cancelled"`
	Completed   int              `json:"completed"`
	Total       int              `json:"total"`
	Elapsed     time.Duration    `json:"elapsed_ns"`
}

// BacktestReport is the complete outcome of one backtest run.
type BacktestReport struct {
	StrategyKey string          `json:"strategy_key"`
	Kpis        Kpis            `json:"metrics"`
	EquityCurve []EquityPoint   `json:"equity_curve"`
	Trades      []RealizedTrade `json:"trades"`
	Skipped     []SkippedTrade  `json:"skipped,omitempty"`
	Failures    []SymbolFailure `json:"failures,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Cancelled   bool            `json:"cancelled"`
	Elapsed     time.Duration   `json:"elapsed_ns"`
}

// PreviewReport is one symbol's raw strategy output plus the trade
// proposals derived from it. Bars are served separately.
type PreviewReport struct {
	StrategyKey string        `json:"strategy_key"`
	Symbol      string        `json:"symbol"`
	Result      *RunResult    `json:"result"`
	Proposals   []Proposal    `json:"proposals,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Progress is emitted after each symbol completes during a scan or backtest.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Symbol    string `json:"symbol"`
}

// ScanRequest asks for a ranked evaluation of a strategy across a universe.
// The money fields feed the per-symbol simulation behind each row's Kpis.
type ScanRequest struct {
	StrategyKey    string         `json:"strategy_key"`
	Universe       []string       `json:"universe"`
	Market         string         `json:"market,omitempty"`
	Start          time.Time      `json:"start,omitzero"`
	End            time.Time      `json:"end,omitzero"`
	Params         map[string]any `json:"params,omitempty"`
	InitialCash    float64        `json:"initial_cash,omitempty"`
	MaxPositions   int            `json:"max_positions,omitempty"`
	PositionPct    float64        `json:"position_pct,omitempty"`
	FixedSize      float64        `json:"fixed_size,omitempty"`
	CommissionRate float64        `json:"commission_rate,omitempty"`
	Slippage       float64        `json:"slippage,omitempty"`
	HoldingBars    int            `json:"holding_bars,omitempty"`
	Concurrency    int            `json:"concurrency,omitempty"`
}

// Normalize fills defaulted fields in place.
func (r *ScanRequest) Normalize() {
	if r.Market == "" {
		r.Market = MarketUS
	}
	if r.InitialCash == 0 {
		r.InitialCash = DefaultInitialCash
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = DefaultMaxPositions
	}
	if r.PositionPct == 0 && r.FixedSize == 0 {
		r.PositionPct = DefaultPositionPct
	}
	if r.HoldingBars <= 0 {
		r.HoldingBars = DefaultHoldingBars
	}
}

// Validate reports whether the request is runnable. It does not check that
// the strategy key exists; the registry owns that.
func (r *ScanRequest) Validate() error {
	if r.StrategyKey == "" {
		return &ValidationError{Msg: "strategy_key is required"}
	}
	if len(r.Universe) == 0 {
		return &ValidationError{Msg: "universe is empty"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &ValidationError{Msg: fmt.Sprintf("invalid date range: %s after %s",
			r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))}
	}
	if r.InitialCash < 0 {
		return &ValidationError{Msg: "initial_cash must not be negative"}
	}
	if r.CommissionRate < 0 {
		return &ValidationError{Msg: "commission_rate must not be negative"}
	}
	if r.Slippage < 0 {
		return &ValidationError{Msg: "slippage must not be negative"}
	}
	if r.PositionPct < 0 || r.PositionPct > 1 {
		return &ValidationError{Msg: "position_pct must be in (0, 1]"}
	}
	if r.FixedSize < 0 {
		return &ValidationError{Msg: "fixed_size must not be negative"}
	}
	return nil
}

// BacktestRequest asks for a portfolio simulation of a strategy across a
// universe.
type BacktestRequest struct {
	StrategyKey    string         `json:"strategy_key"`
	Universe       []string       `json:"universe"`
	Market         string         `json:"market,omitempty"`
	Start          time.Time      `json:"start,omitzero"`
	End            time.Time      `json:"end,omitzero"`
	Params         map[string]any `json:"params,omitempty"`
	InitialCash    float64        `json:"initial_cash,omitempty"`
	MaxPositions   int            `json:"max_positions,omitempty"`
	PositionPct    float64        `json:"position_pct,omitempty"`
	FixedSize      float64        `json:"fixed_size,omitempty"`
	CommissionRate float64        `json:"commission_rate,omitempty"`
	Slippage       float64        `json:"slippage,omitempty"`
	HoldingBars    int            `json:"holding_bars,omitempty"`
	Concurrency    int            `json:"concurrency,omitempty"`
}

// Normalize fills defaulted structural fields in place. Commission and
// slippage are left untouched: a zero rate is a valid request and prices
// trades at the raw signal price.
func (r *BacktestRequest) Normalize() {
	if r.Market == "" {
		r.Market = MarketUS
	}
	if r.InitialCash == 0 {
		r.InitialCash = DefaultInitialCash
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = DefaultMaxPositions
	}
	if r.PositionPct == 0 && r.FixedSize == 0 {
		r.PositionPct = DefaultPositionPct
	}
	if r.HoldingBars <= 0 {
		r.HoldingBars = DefaultHoldingBars
	}
}

// Validate reports whether the request is runnable.
func (r *BacktestRequest) Validate() error {
	if r.StrategyKey == "" {
		return &ValidationError{Msg: "strategy_key is required"}
	}
	if len(r.Universe) == 0 {
		return &ValidationError{Msg: "universe is empty"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &ValidationError{Msg: fmt.Sprintf("invalid date range: %s after %s",
			r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))}
	}
	if r.InitialCash < 0 {
		return &ValidationError{Msg: "initial_cash must not be negative"}
	}
	if r.CommissionRate < 0 {
		return &ValidationError{Msg: "commission_rate must not be negative"}
	}
	if r.Slippage < 0 {
		return &ValidationError{Msg: "slippage must not be negative"}
	}
	if r.PositionPct < 0 || r.PositionPct > 1 {
		return &ValidationError{Msg: "position_pct must be in (0, 1]"}
	}
	if r.FixedSize < 0 {
		return &ValidationError{Msg: "fixed_size must not be negative"}
	}
	return nil
}
