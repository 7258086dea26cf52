package backtest

import (
	"fmt"
	"sort"
	"time"

	"backscan/internal/domain"
	"backscan/internal/util"
)

// SimConfig carries the money and cost parameters of one simulation.
type SimConfig struct {
	InitialCash    float64
	MaxPositions   int
	PositionPct    float64
	FixedSize      float64
	CommissionRate float64
	Slippage       float64
}

// Ledger is the outcome of one portfolio simulation.
type Ledger struct {
	InitialCash      float64
	FinalEquity      float64
	Trades           []domain.RealizedTrade
	Skipped          []domain.SkippedTrade
	EquityCurve      []domain.EquityPoint
	MaxPositionsUsed int
}

// Simulate runs the position ledger over proposals ordered by entry time
// (ties by symbol). Before each entry, open positions whose exit falls at
// or before it are closed, freeing capacity first-come-first-served. At
// capacity a proposal is skipped with reason "skipped-overlap", never
// queued. Equity is marked flat at each entry and realized at each exit;
// between events it holds flat. Degenerate proposals (non-positive fill or
// size) are skipped, never abort the run.
func Simulate(proposals []domain.Proposal, cfg SimConfig) *Ledger {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = domain.DefaultMaxPositions
	}

	ordered := make([]domain.Proposal, len(proposals))
	copy(ordered, proposals)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EntryTime.Equal(ordered[j].EntryTime) {
			return ordered[i].Symbol < ordered[j].Symbol
		}
		return ordered[i].EntryTime.Before(ordered[j].EntryTime)
	})

	led := &Ledger{InitialCash: cfg.InitialCash}
	equity := cfg.InitialCash
	peak := equity
	var open []domain.RealizedTrade // exit-time order

	mark := func(ts time.Time) {
		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		pt := domain.EquityPoint{Timestamp: ts, Equity: equity, DrawdownPct: dd}
		// An exit landing exactly on the next entry would duplicate the
		// timestamp; replace the point so the curve stays strictly ordered.
		if n := len(led.EquityCurve); n > 0 && led.EquityCurve[n-1].Timestamp.Equal(ts) {
			led.EquityCurve[n-1] = pt
			return
		}
		led.EquityCurve = append(led.EquityCurve, pt)
	}

	closeUntil := func(cutoff time.Time, all bool) {
		for len(open) > 0 && (all || !open[0].ExitTime.After(cutoff)) {
			tr := open[0]
			open = open[1:]
			equity += tr.NetPnL
			led.Trades = append(led.Trades, tr)
			mark(tr.ExitTime)
		}
	}

	for _, p := range ordered {
		closeUntil(p.EntryTime, false)

		if len(open) >= cfg.MaxPositions {
			led.Skipped = append(led.Skipped, domain.SkippedTrade{
				Symbol: p.Symbol, EntryTime: p.EntryTime, Reason: domain.ReasonSkippedOverlap,
			})
			continue
		}

		tr, err := realize(p, cfg)
		if err != nil {
			led.Skipped = append(led.Skipped, domain.SkippedTrade{
				Symbol: p.Symbol, EntryTime: p.EntryTime, Reason: domain.ReasonDegenerateSize,
			})
			continue
		}

		mark(p.EntryTime)

		i := sort.Search(len(open), func(i int) bool {
			return open[i].ExitTime.After(tr.ExitTime)
		})
		open = append(open, domain.RealizedTrade{})
		copy(open[i+1:], open[i:])
		open[i] = tr

		if len(open) > led.MaxPositionsUsed {
			led.MaxPositionsUsed = len(open)
		}
	}
	closeUntil(time.Time{}, true)

	led.FinalEquity = equity
	return led
}

// realize prices one proposal and resolves its size: the proposal's own
// size hint wins, then the configured fixed size, then the cash fraction
// InitialCash x PositionPct / entryFill (non-compounding).
func realize(p domain.Proposal, cfg SimConfig) (domain.RealizedTrade, error) {
	unit := ApplyCosts(p.EntryPrice, p.ExitPrice, 1, cfg.CommissionRate, cfg.Slippage)
	if unit.EntryFill <= 0 {
		return domain.RealizedTrade{}, &domain.SimulationError{
			Symbol: p.Symbol, EntryTime: p.EntryTime,
			Msg: fmt.Sprintf("entry fill %.4f", unit.EntryFill),
		}
	}

	size := p.SizeHint
	if size <= 0 {
		size = cfg.FixedSize
	}
	if size <= 0 && cfg.PositionPct > 0 {
		size = cfg.InitialCash * cfg.PositionPct / unit.EntryFill
	}
	if size <= 0 {
		return domain.RealizedTrade{}, &domain.SimulationError{
			Symbol: p.Symbol, EntryTime: p.EntryTime, Msg: "size resolves to 0",
		}
	}

	gross := (unit.ExitFill - unit.EntryFill) * size
	cost := unit.TotalCost * size
	net := gross - cost

	return domain.RealizedTrade{
		Symbol:      p.Symbol,
		EntryTime:   p.EntryTime,
		ExitTime:    p.ExitTime,
		EntryFill:   unit.EntryFill,
		ExitFill:    unit.ExitFill,
		Size:        size,
		GrossPnL:    gross,
		NetPnL:      net,
		Costs:       cost,
		ReturnPct:   net / (unit.EntryFill * size),
		HoldingDays: util.DaysBetween(p.EntryTime, p.ExitTime),
		Reason:      p.Reason,
	}, nil
}
