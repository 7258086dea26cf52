package backtest

import (
	"math"
	"sort"

	"backscan/internal/domain"
)

// tradingDaysPerYear annualizes the per-trade Sharpe ratio.
const tradingDaysPerYear = 252

// Rank keys accepted by SummarizeUniverse.
const (
	RankByReturn    = "return_pct"
	RankByNetProfit = "net_profit"
	RankBySharpe    = "sharpe_ratio"
	RankByWinRate   = "win_rate"
)

// ComputeKpis reduces a ledger to its performance record. Ratios are
// fractions; an empty ledger produces zeros, never NaN.
func ComputeKpis(led *Ledger) domain.Kpis {
	k := domain.Kpis{
		InitialCash:      led.InitialCash,
		FinalEquity:      led.FinalEquity,
		TradeCount:       len(led.Trades),
		SkippedCount:     len(led.Skipped),
		MaxPositionsUsed: led.MaxPositionsUsed,
	}

	var (
		grossWins, grossLosses float64
		wins, losses           int
		holdingSum             int
	)
	returns := make([]float64, 0, len(led.Trades))
	for _, tr := range led.Trades {
		k.NetProfit += tr.NetPnL
		holdingSum += tr.HoldingDays
		returns = append(returns, tr.ReturnPct)
		switch {
		case tr.NetPnL > 0:
			wins++
			grossWins += tr.NetPnL
		case tr.NetPnL < 0:
			losses++
			grossLosses += -tr.NetPnL
		}
	}

	if led.InitialCash > 0 {
		k.ReturnPct = k.NetProfit / led.InitialCash
	}
	k.MaxDrawdown = maxDrawdown(led.EquityCurve)
	if k.TradeCount > 0 {
		k.WinRate = float64(wins) / float64(k.TradeCount)
		k.AvgPnL = k.NetProfit / float64(k.TradeCount)
		k.AvgHoldingDays = float64(holdingSum) / float64(k.TradeCount)
	}
	if wins > 0 {
		k.AvgWin = grossWins / float64(wins)
	}
	if losses > 0 {
		k.AvgLoss = -grossLosses / float64(losses)
	}
	if grossLosses > 0 {
		k.ProfitFactor = grossWins / grossLosses
	}
	k.SharpeRatio = sharpe(returns)
	return k
}

// maxDrawdown is the largest peak-relative decline over the curve, found in
// one forward pass against the running maximum.
func maxDrawdown(curve []domain.EquityPoint) float64 {
	var peak, maxDD float64
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - pt.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpe annualizes mean over sample standard deviation of per-trade
// returns. Fewer than two trades or zero variance yields 0.
func sharpe(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// SummarizeUniverse ranks per-symbol KPI records descending by the rank key
// (ties by symbol ascending) and reduces them to top/bottom performers plus
// a trade-weighted aggregate win rate. Unknown rank keys fall back to
// return_pct. Returns nil for an empty input.
func SummarizeUniverse(records []domain.SymbolKpis, topN int, rankKey string) *domain.UniverseSummary {
	if len(records) == 0 {
		return nil
	}
	value, key := rankSelector(rankKey)
	if topN <= 0 {
		topN = 5
	}

	ranked := make([]domain.SymbolKpis, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := value(ranked[i].Kpis), value(ranked[j].Kpis)
		if vi == vj {
			return ranked[i].Symbol < ranked[j].Symbol
		}
		return vi > vj
	})

	sum := &domain.UniverseSummary{RankKey: key}
	var weightedWins, trades float64
	for _, r := range ranked {
		trades += float64(r.Kpis.TradeCount)
		weightedWins += r.Kpis.WinRate * float64(r.Kpis.TradeCount)
	}
	sum.TradeCount = int(trades)
	if trades > 0 {
		sum.WinRate = weightedWins / trades
	}

	n := topN
	if n > len(ranked) {
		n = len(ranked)
	}
	sum.Top = append(sum.Top, ranked[:n]...)
	for i := 0; i < n; i++ {
		sum.Bottom = append(sum.Bottom, ranked[len(ranked)-1-i])
	}
	return sum
}

func rankSelector(key string) (func(domain.Kpis) float64, string) {
	switch key {
	case RankByNetProfit:
		return func(k domain.Kpis) float64 { return k.NetProfit }, key
	case RankBySharpe:
		return func(k domain.Kpis) float64 { return k.SharpeRatio }, key
	case RankByWinRate:
		return func(k domain.Kpis) float64 { return k.WinRate }, key
	default:
		return func(k domain.Kpis) float64 { return k.ReturnPct }, RankByReturn
	}
}
