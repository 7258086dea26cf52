// Package backtest implements the trade pipeline: raw strategy output is
// normalized into trade proposals, cost-adjusted, simulated against a
// position ledger, and reduced to performance metrics.
package backtest

import (
	"fmt"
	"sort"
	"time"

	"backscan/internal/domain"
)

// lookbackDays is how far back a proposal timestamp may search for a bar
// when the exact date has no data (weekends, holidays).
const lookbackDays = 5

const priceLookback = lookbackDays * 24 * time.Hour

// Options tunes normalization of raw strategy output.
type Options struct {
	// HoldingBars is the fixed holding period applied to marker-only
	// output: exit = entry + HoldingBars bars.
	HoldingBars int
}

// Normalize converts one strategy run result into time-ordered trade
// proposals. The richest available output shape wins: explicit trades,
// then paired buy/sell signals, then side-tagged markers, then a fixed
// holding period over bare markers.
func Normalize(symbol string, res *domain.RunResult, series []domain.Bar, opts Options) ([]domain.Proposal, error) {
	if res == nil || len(series) == 0 {
		return nil, nil
	}
	holding := opts.HoldingBars
	if holding <= 0 {
		holding = domain.DefaultHoldingBars
	}

	var (
		proposals []domain.Proposal
		err       error
	)
	switch {
	case len(res.Trades) > 0:
		proposals, err = fromTrades(symbol, res.Trades, series)
	case len(res.Signals) > 0:
		proposals, err = fromSignals(symbol, res.Signals, series)
	case hasSidedMarkers(res.Markers):
		proposals, err = fromSidedMarkers(symbol, res.Markers, series)
	case len(res.Markers) > 0:
		proposals, err = fromBareMarkers(symbol, res.Markers, series, holding)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].EntryTime.Before(proposals[j].EntryTime)
	})
	return proposals, nil
}

// fromTrades passes explicit trades through, resolving missing prices from
// the series and closing exit-less trades at the end of the range.
func fromTrades(symbol string, trades []domain.TradeSpec, series []domain.Bar) ([]domain.Proposal, error) {
	last := series[len(series)-1]
	out := make([]domain.Proposal, 0, len(trades))
	for _, t := range trades {
		if t.EntryTime.IsZero() {
			return nil, &domain.ValidationError{Symbol: symbol, Msg: "trade without entry time"}
		}
		p := domain.Proposal{
			Symbol:     symbol,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			SizeHint:   t.SizeHint,
			Reason:     t.Note,
		}
		if p.EntryPrice <= 0 {
			c, ok := closeOnOrBefore(series, p.EntryTime)
			if !ok {
				return nil, noBarErr(symbol, p.EntryTime)
			}
			p.EntryPrice = c
		}
		if p.ExitTime.IsZero() {
			p.ExitTime = last.Timestamp
			p.ExitPrice = last.Close
			p.Reason = joinReason(p.Reason, domain.ReasonForcedCloseEnd)
		}
		if p.ExitPrice <= 0 {
			c, ok := closeOnOrBefore(series, p.ExitTime)
			if !ok {
				return nil, noBarErr(symbol, p.ExitTime)
			}
			p.ExitPrice = c
		}
		if p.ExitTime.Before(p.EntryTime) {
			return nil, &domain.ValidationError{Symbol: symbol,
				Msg: fmt.Sprintf("exit %s before entry %s", day(p.ExitTime), day(p.EntryTime))}
		}
		out = append(out, p)
	}
	return out, nil
}

// fromSignals pairs consecutive buy/sell signals in chronological order.
// A buy while already long is ignored, as is a sell with nothing open. A
// trailing open buy is closed at the last bar's close.
func fromSignals(symbol string, signals []domain.Signal, series []domain.Bar) ([]domain.Proposal, error) {
	ordered := make([]domain.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time.Before(ordered[j].Time)
	})

	var out []domain.Proposal
	var open *domain.Proposal
	for _, s := range ordered {
		switch s.Type {
		case domain.SignalBuy:
			if open != nil {
				continue
			}
			price, err := signalPrice(symbol, s, series)
			if err != nil {
				return nil, err
			}
			open = &domain.Proposal{Symbol: symbol, EntryTime: s.Time, EntryPrice: price}
		case domain.SignalSell:
			if open == nil {
				continue
			}
			price, err := signalPrice(symbol, s, series)
			if err != nil {
				return nil, err
			}
			open.ExitTime = s.Time
			open.ExitPrice = price
			out = append(out, *open)
			open = nil
		}
	}

	if open != nil {
		last := series[len(series)-1]
		if open.EntryTime.After(last.Timestamp) {
			return nil, &domain.ValidationError{Symbol: symbol,
				Msg: fmt.Sprintf("entry %s is beyond the price range", day(open.EntryTime))}
		}
		open.ExitTime = last.Timestamp
		open.ExitPrice = last.Close
		open.Reason = domain.ReasonForcedCloseEnd
		out = append(out, *open)
	}
	return out, nil
}

// fromSidedMarkers reuses the signal pairing over markers that carry an
// inferable side; sideless markers are dropped.
func fromSidedMarkers(symbol string, markers []domain.Marker, series []domain.Bar) ([]domain.Proposal, error) {
	signals := make([]domain.Signal, 0, len(markers))
	for _, m := range markers {
		side := m.Side()
		if side == "" {
			continue
		}
		signals = append(signals, domain.Signal{Time: m.Time, Type: side, Price: m.Price})
	}
	return fromSignals(symbol, signals, series)
}

// fromBareMarkers applies the fixed-holding-period approximation: every
// marker opens at its bar and closes HoldingBars bars later (or at the end
// of the series), both at closing prices.
func fromBareMarkers(symbol string, markers []domain.Marker, series []domain.Bar, holding int) ([]domain.Proposal, error) {
	out := make([]domain.Proposal, 0, len(markers))
	for _, m := range markers {
		i := barIndexOnOrBefore(series, m.Time)
		if i < 0 {
			return nil, noBarErr(symbol, m.Time)
		}
		j := i + holding
		if j >= len(series) {
			j = len(series) - 1
		}
		entryPrice := m.Price
		if entryPrice <= 0 {
			entryPrice = series[i].Close
		}
		out = append(out, domain.Proposal{
			Symbol:     symbol,
			EntryTime:  series[i].Timestamp,
			ExitTime:   series[j].Timestamp,
			EntryPrice: entryPrice,
			ExitPrice:  series[j].Close,
			Reason:     domain.ReasonFixedHolding,
		})
	}
	return out, nil
}

func hasSidedMarkers(markers []domain.Marker) bool {
	for _, m := range markers {
		if m.Side() != "" {
			return true
		}
	}
	return false
}

func signalPrice(symbol string, s domain.Signal, series []domain.Bar) (float64, error) {
	if s.Price > 0 {
		return s.Price, nil
	}
	c, ok := closeOnOrBefore(series, s.Time)
	if !ok {
		return 0, noBarErr(symbol, s.Time)
	}
	return c, nil
}

// barIndexOnOrBefore returns the index of the latest bar at or before t,
// provided it lies within the lookback window. Returns -1 when no bar
// qualifies. The series must be time-ordered.
func barIndexOnOrBefore(series []domain.Bar, t time.Time) int {
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(t)
	}) - 1
	if i < 0 || t.Sub(series[i].Timestamp) > priceLookback {
		return -1
	}
	return i
}

func closeOnOrBefore(series []domain.Bar, t time.Time) (float64, bool) {
	i := barIndexOnOrBefore(series, t)
	if i < 0 {
		return 0, false
	}
	return series[i].Close, true
}

func noBarErr(symbol string, t time.Time) error {
	return &domain.ValidationError{Symbol: symbol,
		Msg: fmt.Sprintf("no price bar within %d days before %s", lookbackDays, day(t))}
}

func joinReason(base, tag string) string {
	if base == "" {
		return tag
	}
	return base + "; " + tag
}

func day(t time.Time) string { return t.Format("2006-01-02") }
