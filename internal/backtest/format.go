package backtest

import (
	"fmt"
	"math"
	"strings"

	"backscan/internal/domain"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatMoney formats a dollar value with B/M/K suffixes.
func FormatMoney(v float64) string {
	neg := v < 0
	a := math.Abs(v)
	var s string
	switch {
	case a >= 1e9:
		s = fmt.Sprintf("%.2fB", a/1e9)
	case a >= 1e6:
		s = fmt.Sprintf("%.2fM", a/1e6)
	case a >= 1e3:
		s = fmt.Sprintf("%.1fK", a/1e3)
	default:
		s = fmt.Sprintf("%.2f", a)
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatPrice formats a price value as X.XX, or "-" for zero/max.
func FormatPrice(p float64) string {
	if p == math.MaxFloat64 || p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatPct formats a fraction as a signed percentage.
func FormatPct(f float64) string {
	return fmt.Sprintf("%+.2f%%", f*100)
}

// FormatCount formats a trade count, using K suffix for large values.
func FormatCount(n int) string {
	if n >= 100_000 {
		return fmt.Sprintf("%.0fK", float64(n)/1e3)
	}
	return FormatInt(n)
}

// RenderBacktestReport renders a terminal summary of a backtest.
func RenderBacktestReport(rep *domain.BacktestReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest %s", rep.StrategyKey)
	if rep.Cancelled {
		b.WriteString(" (cancelled)")
	}
	b.WriteByte('\n')

	k := rep.Kpis
	fmt.Fprintf(&b, "  %-14s %s\n", "initial cash", FormatMoney(k.InitialCash))
	fmt.Fprintf(&b, "  %-14s %s\n", "final equity", FormatMoney(k.FinalEquity))
	fmt.Fprintf(&b, "  %-14s %s (%s)\n", "net profit", FormatMoney(k.NetProfit), FormatPct(k.ReturnPct))
	fmt.Fprintf(&b, "  %-14s %.2f%%\n", "max drawdown", k.MaxDrawdown*100)
	fmt.Fprintf(&b, "  %-14s %d (%d skipped)\n", "trades", k.TradeCount, k.SkippedCount)
	fmt.Fprintf(&b, "  %-14s %.1f%%\n", "win rate", k.WinRate*100)
	fmt.Fprintf(&b, "  %-14s %s / %s\n", "avg win/loss", FormatMoney(k.AvgWin), FormatMoney(k.AvgLoss))
	fmt.Fprintf(&b, "  %-14s %.2f\n", "profit factor", k.ProfitFactor)
	fmt.Fprintf(&b, "  %-14s %.2f\n", "sharpe", k.SharpeRatio)
	fmt.Fprintf(&b, "  %-14s %.1f days\n", "avg holding", k.AvgHoldingDays)
	fmt.Fprintf(&b, "  %-14s %d\n", "max positions", k.MaxPositionsUsed)
	if len(rep.Failures) > 0 {
		fmt.Fprintf(&b, "  %-14s %d symbols\n", "failures", len(rep.Failures))
	}
	if rep.Notes != "" {
		fmt.Fprintf(&b, "  %-14s %s\n", "notes", rep.Notes)
	}
	return b.String()
}

// RenderTrades renders the most recent realized trades, up to limit
// (0 = all).
func RenderTrades(trades []domain.RealizedTrade, limit int) string {
	if len(trades) == 0 {
		return "no trades\n"
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s  %-10s  %-10s  %9s  %9s  %12s  %s\n",
		"ENTRY", "EXIT", "SYMBOL", "ENTRY@", "EXIT@", "NET", "REASON")
	for _, tr := range trades {
		fmt.Fprintf(&b, "%-10s  %-10s  %-10s  %9s  %9s  %12s  %s\n",
			tr.EntryTime.Format("2006-01-02"),
			tr.ExitTime.Format("2006-01-02"),
			tr.Symbol,
			FormatPrice(tr.EntryFill),
			FormatPrice(tr.ExitFill),
			FormatMoney(tr.NetPnL),
			tr.Reason)
	}
	return b.String()
}

// RenderScanReport renders the ranked scan table, up to limit rows
// (0 = all).
func RenderScanReport(rep *domain.ScanReport, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scan %s: %d/%d symbols, %d hits",
		rep.StrategyKey, rep.Completed, rep.Total, len(rep.Rows))
	if rep.Cancelled {
		b.WriteString(" (cancelled)")
	}
	b.WriteByte('\n')

	rows := rep.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if len(rows) > 0 {
		fmt.Fprintf(&b, "%4s  %-10s  %8s  %-10s  %9s  %s\n",
			"RANK", "SYMBOL", "SCORE", "ENTRY", "PRICE", "NOTE")
		for _, r := range rows {
			entry := "-"
			if !r.EntryDate.IsZero() {
				entry = r.EntryDate.Format("2006-01-02")
			}
			fmt.Fprintf(&b, "%4d  %-10s  %8.2f  %-10s  %9s  %s\n",
				r.Rank, r.Symbol, r.Score, entry, FormatPrice(r.EntryPrice), r.Note)
		}
	}
	if s := rep.Summary; s != nil && s.TradeCount > 0 {
		fmt.Fprintf(&b, "universe: %s trades, win rate %.1f%%\n",
			FormatCount(s.TradeCount), s.WinRate*100)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(&b, "  ! %s [%s]: %s\n", f.Symbol, f.Stage, f.Err)
	}
	return b.String()
}
