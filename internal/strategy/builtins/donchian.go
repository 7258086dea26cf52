package builtins

import (
	"context"
	"fmt"

	"backscan/internal/domain"
	"backscan/internal/strategy"
)

const (
	donchianKey          = "donchian-breakout"
	defaultDonchianEntry = 20
	defaultDonchianExit  = 10
)

// Compile-time interface checks.
var (
	_ strategy.Strategy  = (*DonchianBreakout)(nil)
	_ strategy.Describer = (*DonchianBreakout)(nil)
)

// DonchianBreakout is a channel breakout strategy emitting explicit trades:
// enter long when the close exceeds the prior entry-window high, exit when
// it drops below the prior exit-window low. A position still open at the end
// of the series is reported with a zero exit so the engine closes it at the
// range end.
type DonchianBreakout struct{}

// NewDonchianBreakout creates the breakout strategy. Windows are read per
// run from the "entry_window" and "exit_window" parameters.
func NewDonchianBreakout() *DonchianBreakout {
	return &DonchianBreakout{}
}

// Key returns "donchian-breakout".
func (d *DonchianBreakout) Key() string {
	return donchianKey
}

// Describe returns the catalog entry for the breakout strategy.
func (d *DonchianBreakout) Describe() strategy.Definition {
	return strategy.Definition{
		Key:         donchianKey,
		Title:       "Donchian Breakout",
		Description: "Buy a close above the prior N-day high, sell a close below the prior M-day low.",
		Category:    "breakout",
		Params: []strategy.ParamSpec{
			{Key: "entry_window", Label: "Entry window", Type: "int", Default: defaultDonchianEntry},
			{Key: "exit_window", Label: "Exit window", Type: "int", Default: defaultDonchianExit},
		},
		Preview:  true,
		Scan:     true,
		Backtest: true,
	}
}

// Run walks the series with a one-position state machine and reports each
// round trip as an explicit trade.
func (d *DonchianBreakout) Run(_ context.Context, rc strategy.RunContext) (*domain.RunResult, error) {
	entryWindow := rc.IntParam("entry_window", defaultDonchianEntry)
	exitWindow := rc.IntParam("exit_window", defaultDonchianExit)
	if entryWindow <= 0 || exitWindow <= 0 {
		return nil, fmt.Errorf("donchian windows must be positive, got %d/%d", entryWindow, exitWindow)
	}

	res := &domain.RunResult{StrategyName: donchianKey}
	bars := rc.Bars
	if len(bars) <= entryWindow {
		res.StatusMessage = fmt.Sprintf("need more than %d bars, have %d", entryWindow, len(bars))
		return res, nil
	}

	inPosition := false
	var current domain.TradeSpec
	for i := entryWindow; i < len(bars); i++ {
		bar := bars[i]
		if !inPosition {
			high := highestHigh(bars, i-entryWindow, i)
			if bar.Close <= high {
				continue
			}
			current = domain.TradeSpec{
				EntryTime:  bar.Timestamp,
				EntryPrice: bar.Close,
				Note:       fmt.Sprintf("%dd breakout", entryWindow),
			}
			inPosition = true
			res.Markers = append(res.Markers, domain.Marker{
				Time:     bar.Timestamp,
				Price:    bar.Close,
				Text:     "BUY",
				Position: domain.MarkerBelowBar,
				Shape:    "arrowUp",
				Color:    "#26a69a",
			})
			score := 0.0
			if high != 0 {
				score = (bar.Close - high) / high * 100
			}
			res.Candidates = append(res.Candidates, domain.Candidate{
				Time:  bar.Timestamp,
				Price: bar.Close,
				Score: score,
				Note:  current.Note,
			})
			continue
		}
		low := lowestLow(bars, max(0, i-exitWindow), i)
		if bar.Close >= low {
			continue
		}
		current.ExitTime = bar.Timestamp
		current.ExitPrice = bar.Close
		res.Trades = append(res.Trades, current)
		inPosition = false
		res.Markers = append(res.Markers, domain.Marker{
			Time:     bar.Timestamp,
			Price:    bar.Close,
			Text:     "SELL",
			Position: domain.MarkerAboveBar,
			Shape:    "arrowDown",
			Color:    "#ef5350",
		})
	}
	if inPosition {
		res.Trades = append(res.Trades, current)
	}

	if rc.Mode != domain.ModeScan {
		upper := domain.Overlay{Name: fmt.Sprintf("DC high %d", entryWindow), Color: "#2962ff"}
		for i := entryWindow; i < len(bars); i++ {
			upper.Points = append(upper.Points, domain.OverlayPoint{
				Time:  bars[i].Timestamp,
				Value: highestHigh(bars, i-entryWindow, i),
			})
		}
		lower := domain.Overlay{Name: fmt.Sprintf("DC low %d", exitWindow), Color: "#f57c00"}
		for i := exitWindow; i < len(bars); i++ {
			lower.Points = append(lower.Points, domain.OverlayPoint{
				Time:  bars[i].Timestamp,
				Value: lowestLow(bars, i-exitWindow, i),
			})
		}
		res.Overlays = []domain.Overlay{upper, lower}
	}
	return res, nil
}

// highestHigh returns the highest high of bars[from:to]. Requires from < to.
func highestHigh(bars []domain.Bar, from, to int) float64 {
	h := bars[from].High
	for _, b := range bars[from+1 : to] {
		if b.High > h {
			h = b.High
		}
	}
	return h
}

// lowestLow returns the lowest low of bars[from:to]. Requires from < to.
func lowestLow(bars []domain.Bar, from, to int) float64 {
	l := bars[from].Low
	for _, b := range bars[from+1 : to] {
		if b.Low < l {
			l = b.Low
		}
	}
	return l
}
