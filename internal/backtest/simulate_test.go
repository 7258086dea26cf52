package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backscan/internal/domain"
)

func proposal(symbol string, entryDay, exitDay int, entryPrice, exitPrice float64) domain.Proposal {
	return domain.Proposal{
		Symbol:     symbol,
		EntryTime:  barDay(entryDay),
		ExitTime:   barDay(exitDay),
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
	}
}

func zeroCostConfig() SimConfig {
	return SimConfig{InitialCash: 10000, MaxPositions: 1, FixedSize: 1}
}

func TestSimulateWorkedExample(t *testing.T) {
	// Entry 2024-01-02 @10, exit 2024-01-10 @12, commission 0.0003,
	// slippage 0.002, one share.
	p := domain.Proposal{
		Symbol:     "A",
		EntryTime:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		EntryPrice: 10,
		ExitPrice:  12,
	}
	led := Simulate([]domain.Proposal{p}, SimConfig{
		InitialCash:    10000,
		MaxPositions:   1,
		FixedSize:      1,
		CommissionRate: 0.0003,
		Slippage:       0.002,
	})

	require.Len(t, led.Trades, 1)
	tr := led.Trades[0]
	assert.InDelta(t, 10.01, tr.EntryFill, 1e-9)
	assert.InDelta(t, 11.988, tr.ExitFill, 1e-9)
	assert.InDelta(t, 1.978, tr.GrossPnL, 1e-9)
	assert.InDelta(t, 0.0065994, tr.Costs, 1e-9)
	assert.InDelta(t, 1.9714, tr.NetPnL, 1e-4)
	assert.Equal(t, 8, tr.HoldingDays)
	assert.InDelta(t, 10000+tr.NetPnL, led.FinalEquity, 1e-9)
}

func TestSimulateOverlapSkip(t *testing.T) {
	proposals := []domain.Proposal{
		proposal("A", 0, 5, 10, 12),
		proposal("B", 2, 6, 20, 22),
	}
	led := Simulate(proposals, zeroCostConfig())

	if len(led.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(led.Trades))
	}
	if led.Trades[0].Symbol != "A" {
		t.Errorf("realized trade = %s, want first-come A", led.Trades[0].Symbol)
	}
	if len(led.Skipped) != 1 {
		t.Fatalf("got %d skips, want 1", len(led.Skipped))
	}
	sk := led.Skipped[0]
	if sk.Symbol != "B" || sk.Reason != domain.ReasonSkippedOverlap {
		t.Errorf("skip = %+v, want B skipped-overlap", sk)
	}

	// Skipped trades stay out of the KPI trade count.
	k := ComputeKpis(led)
	if k.TradeCount != 1 || k.SkippedCount != 1 {
		t.Errorf("kpis = %d trades / %d skipped, want 1/1", k.TradeCount, k.SkippedCount)
	}
}

func TestSimulateExitFreesSlot(t *testing.T) {
	// B enters exactly at A's exit: the slot frees first.
	proposals := []domain.Proposal{
		proposal("A", 0, 3, 10, 12),
		proposal("B", 3, 6, 20, 22),
	}
	led := Simulate(proposals, zeroCostConfig())

	if len(led.Trades) != 2 {
		t.Fatalf("got %d trades, want 2 (slot freed at exit)", len(led.Trades))
	}
	if len(led.Skipped) != 0 {
		t.Errorf("got %d skips, want 0", len(led.Skipped))
	}
	if led.MaxPositionsUsed != 1 {
		t.Errorf("MaxPositionsUsed = %d, want 1", led.MaxPositionsUsed)
	}
}

func TestSimulateCapacityTwo(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.MaxPositions = 2
	proposals := []domain.Proposal{
		proposal("A", 0, 5, 10, 12),
		proposal("B", 1, 6, 20, 22),
		proposal("C", 2, 7, 30, 33),
	}
	led := Simulate(proposals, cfg)

	if len(led.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(led.Trades))
	}
	if len(led.Skipped) != 1 || led.Skipped[0].Symbol != "C" {
		t.Errorf("skipped = %+v, want C", led.Skipped)
	}
	if led.MaxPositionsUsed != 2 {
		t.Errorf("MaxPositionsUsed = %d, want 2", led.MaxPositionsUsed)
	}
}

func TestSimulateSizePrecedence(t *testing.T) {
	base := proposal("A", 0, 2, 100, 110)

	// The proposal's own hint wins.
	withHint := base
	withHint.SizeHint = 7
	led := Simulate([]domain.Proposal{withHint}, SimConfig{
		InitialCash: 100000, MaxPositions: 1, FixedSize: 50, PositionPct: 0.2,
	})
	require.Len(t, led.Trades, 1)
	assert.Equal(t, 7.0, led.Trades[0].Size)

	// Fixed size beats the cash fraction.
	led = Simulate([]domain.Proposal{base}, SimConfig{
		InitialCash: 100000, MaxPositions: 1, FixedSize: 50, PositionPct: 0.2,
	})
	require.Len(t, led.Trades, 1)
	assert.Equal(t, 50.0, led.Trades[0].Size)

	// Cash fraction: InitialCash x PositionPct / entryFill.
	led = Simulate([]domain.Proposal{base}, SimConfig{
		InitialCash: 100000, MaxPositions: 1, PositionPct: 0.2,
	})
	require.Len(t, led.Trades, 1)
	assert.InDelta(t, 200.0, led.Trades[0].Size, 1e-9)
	assert.InDelta(t, 2000.0, led.Trades[0].NetPnL, 1e-9) // 10 x 200 at zero rates
}

func TestSimulateDegenerateSizeSkipped(t *testing.T) {
	proposals := []domain.Proposal{
		proposal("A", 0, 2, 0, 10), // zero entry price
		proposal("B", 3, 5, 10, 12),
	}
	led := Simulate(proposals, zeroCostConfig())

	if len(led.Skipped) != 1 {
		t.Fatalf("got %d skips, want 1", len(led.Skipped))
	}
	if led.Skipped[0].Reason != domain.ReasonDegenerateSize {
		t.Errorf("skip reason = %q, want %q", led.Skipped[0].Reason, domain.ReasonDegenerateSize)
	}
	// The run continues past the degenerate trade.
	if len(led.Trades) != 1 || led.Trades[0].Symbol != "B" {
		t.Errorf("trades = %+v, want B realized", led.Trades)
	}

	// No sizing rule at all also skips.
	led = Simulate([]domain.Proposal{proposal("C", 0, 1, 10, 11)}, SimConfig{
		InitialCash: 1000, MaxPositions: 1,
	})
	if len(led.Trades) != 0 || len(led.Skipped) != 1 {
		t.Errorf("sizeless config: %d trades / %d skips, want 0/1", len(led.Trades), len(led.Skipped))
	}
}

func TestSimulateEquityCurve(t *testing.T) {
	proposals := []domain.Proposal{
		proposal("A", 0, 2, 10, 12), // +2
		proposal("A", 4, 6, 10, 9),  // -1
	}
	led := Simulate(proposals, zeroCostConfig())
	require.Len(t, led.Trades, 2)

	// Four points: entry flat, exit realized, for each trade.
	require.Len(t, led.EquityCurve, 4)
	assert.Equal(t, 10000.0, led.EquityCurve[0].Equity)
	assert.Equal(t, 10002.0, led.EquityCurve[1].Equity)
	assert.Equal(t, 10002.0, led.EquityCurve[2].Equity) // flat at second entry
	assert.Equal(t, 10001.0, led.EquityCurve[3].Equity)
	assert.InDelta(t, 10001.0, led.FinalEquity, 1e-9)

	// Timestamps never go backwards.
	for i := 1; i < len(led.EquityCurve); i++ {
		if led.EquityCurve[i].Timestamp.Before(led.EquityCurve[i-1].Timestamp) {
			t.Fatalf("equity curve out of order at %d", i)
		}
	}

	// Drawdown is marked against the running peak.
	assert.InDelta(t, (10002.0-10001.0)/10002.0, led.EquityCurve[3].DrawdownPct, 1e-12)
}

func TestSimulateEquityCurveStrictlyOrdered(t *testing.T) {
	// B enters exactly when A exits; the exit mark and the entry mark share
	// a timestamp, so the curve keeps one point per instant.
	proposals := []domain.Proposal{
		proposal("A", 0, 3, 10, 12), // +2
		proposal("B", 3, 6, 20, 22), // +2
	}
	led := Simulate(proposals, zeroCostConfig())
	require.Len(t, led.Trades, 2)

	// A entry, coalesced A-exit/B-entry point, B exit.
	require.Len(t, led.EquityCurve, 3)
	assert.Equal(t, 10000.0, led.EquityCurve[0].Equity)
	assert.Equal(t, 10002.0, led.EquityCurve[1].Equity)
	assert.True(t, led.EquityCurve[1].Timestamp.Equal(barDay(3)))
	assert.Equal(t, 10004.0, led.EquityCurve[2].Equity)

	for i := 1; i < len(led.EquityCurve); i++ {
		if !led.EquityCurve[i-1].Timestamp.Before(led.EquityCurve[i].Timestamp) {
			t.Fatalf("equity curve not strictly increasing at %d", i)
		}
	}
}

func TestSimulateOrdersProposals(t *testing.T) {
	// Given out of order, entries are processed by (entry time, symbol).
	proposals := []domain.Proposal{
		proposal("B", 4, 6, 10, 11),
		proposal("A", 0, 2, 10, 12),
	}
	led := Simulate(proposals, zeroCostConfig())

	require.Len(t, led.Trades, 2)
	assert.Equal(t, "A", led.Trades[0].Symbol)
	assert.Equal(t, "B", led.Trades[1].Symbol)
}
