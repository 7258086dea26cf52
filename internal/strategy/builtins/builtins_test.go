package builtins

import (
	"context"
	"math"
	"testing"
	"time"

	"backscan/internal/domain"
	"backscan/internal/strategy"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// closeSeries builds one flat daily bar per close price.
func closeSeries(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: testStart.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func testDay(i int) time.Time {
	return testStart.AddDate(0, 0, i)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := strategy.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	keys := reg.List()
	want := []string{"donchian-breakout", "sma-cross", "volume-surge"}
	if len(keys) != len(want) {
		t.Fatalf("List returned %v, want %v", keys, want)
	}
	for i, key := range want {
		if keys[i] != key {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], key)
		}
	}
	for _, def := range reg.Definitions() {
		if def.Title == "" || len(def.Params) == 0 {
			t.Errorf("definition %q missing catalog metadata: %+v", def.Key, def)
		}
	}
}

func TestSMACrossSignals(t *testing.T) {
	bars := closeSeries(10, 10, 10, 13, 13, 13, 8, 8)
	rc := strategy.RunContext{
		Symbol: "TEST",
		Bars:   bars,
		Params: map[string]any{"short": 2, "long": 3},
		Mode:   domain.ModeBacktest,
	}

	res, err := NewSMACross().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Signals) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(res.Signals), res.Signals)
	}
	buy, sell := res.Signals[0], res.Signals[1]
	if buy.Type != domain.SignalBuy || !buy.Time.Equal(testDay(3)) || buy.Price != 13 {
		t.Errorf("buy signal = %+v, want buy at day 3 price 13", buy)
	}
	// SMA2 = 11.5, SMA3 = 11 at the up cross.
	if math.Abs(buy.Score-4.5454545) > 1e-6 {
		t.Errorf("buy score = %g, want 4.5454545", buy.Score)
	}
	if sell.Type != domain.SignalSell || !sell.Time.Equal(testDay(6)) || sell.Price != 8 {
		t.Errorf("sell signal = %+v, want sell at day 6 price 8", sell)
	}

	if len(res.Markers) != 2 {
		t.Fatalf("got %d markers, want 2", len(res.Markers))
	}
	if res.Markers[0].Side() != domain.SignalBuy || res.Markers[1].Side() != domain.SignalSell {
		t.Errorf("marker sides = %q/%q, want buy/sell", res.Markers[0].Side(), res.Markers[1].Side())
	}

	// Only up crosses become scan candidates.
	if len(res.Candidates) != 1 || !res.Candidates[0].Time.Equal(testDay(3)) {
		t.Fatalf("candidates = %+v, want one at day 3", res.Candidates)
	}

	if len(res.Overlays) != 2 {
		t.Fatalf("got %d overlays, want 2", len(res.Overlays))
	}
	// SMA2 defined from bar 1, SMA3 from bar 2.
	if len(res.Overlays[0].Points) != 7 || len(res.Overlays[1].Points) != 6 {
		t.Errorf("overlay lengths = %d/%d, want 7/6",
			len(res.Overlays[0].Points), len(res.Overlays[1].Points))
	}
}

func TestSMACross_ScanModeSkipsOverlays(t *testing.T) {
	rc := strategy.RunContext{
		Bars:   closeSeries(10, 10, 10, 13, 13, 13, 8, 8),
		Params: map[string]any{"short": 2, "long": 3},
		Mode:   domain.ModeScan,
	}
	res, err := NewSMACross().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Overlays) != 0 {
		t.Errorf("scan mode produced %d overlays, want 0", len(res.Overlays))
	}
	if len(res.Signals) != 2 {
		t.Errorf("scan mode changed signal output: got %d, want 2", len(res.Signals))
	}
}

func TestSMACross_BadParams(t *testing.T) {
	rc := strategy.RunContext{
		Bars:   closeSeries(1, 2, 3, 4, 5),
		Params: map[string]any{"short": 5, "long": 3},
	}
	if _, err := NewSMACross().Run(context.Background(), rc); err == nil {
		t.Fatal("Run accepted short >= long")
	}
}

func TestSMACross_TooFewBars(t *testing.T) {
	rc := strategy.RunContext{
		Bars:   closeSeries(1, 2, 3),
		Params: map[string]any{"short": 2, "long": 3},
	}
	res, err := NewSMACross().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Signals) != 0 || res.StatusMessage == "" {
		t.Errorf("short series should yield no signals and a status message, got %+v", res)
	}
}

func TestDonchianBreakoutTrades(t *testing.T) {
	// Day 3 closes above the prior 3-day high of 10 and enters. Day 5
	// closes below the prior 2-day low of 10 and exits. Day 7 breaks the
	// prior 3-day high of 11.6 and stays open through the series end.
	type ohlc struct{ o, h, l, c float64 }
	rows := []ohlc{
		{9.5, 10.0, 9.0, 9.5},
		{9.5, 10.0, 9.0, 9.5},
		{9.5, 10.0, 9.0, 9.5},
		{10.0, 11.2, 10.0, 11.0},
		{11.0, 11.6, 10.8, 11.5},
		{8.8, 8.9, 7.8, 8.0},
		{8.2, 8.5, 7.9, 8.2},
		{12.0, 12.6, 11.9, 12.5},
	}
	bars := make([]domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: testDay(i),
			Open:      r.o,
			High:      r.h,
			Low:       r.l,
			Close:     r.c,
			Volume:    1000,
		}
	}

	rc := strategy.RunContext{
		Symbol: "TEST",
		Bars:   bars,
		Params: map[string]any{"entry_window": 3, "exit_window": 2},
		Mode:   domain.ModeBacktest,
	}
	res, err := NewDonchianBreakout().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2: %+v", len(res.Trades), res.Trades)
	}
	first := res.Trades[0]
	if !first.EntryTime.Equal(testDay(3)) || first.EntryPrice != 11.0 {
		t.Errorf("first entry = %s @ %g, want day 3 @ 11", first.EntryTime, first.EntryPrice)
	}
	if !first.ExitTime.Equal(testDay(5)) || first.ExitPrice != 8.0 {
		t.Errorf("first exit = %s @ %g, want day 5 @ 8", first.ExitTime, first.ExitPrice)
	}
	if first.Note != "3d breakout" {
		t.Errorf("note = %q, want 3d breakout", first.Note)
	}
	second := res.Trades[1]
	if !second.EntryTime.Equal(testDay(7)) || second.EntryPrice != 12.5 {
		t.Errorf("second entry = %s @ %g, want day 7 @ 12.5", second.EntryTime, second.EntryPrice)
	}
	// Still open at series end; the engine force-closes it.
	if !second.ExitTime.IsZero() {
		t.Errorf("second exit = %s, want zero", second.ExitTime)
	}

	if len(res.Markers) != 3 {
		t.Errorf("got %d markers, want 3 (buy, sell, buy)", len(res.Markers))
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
	// Breakout strength over the 10.0 channel top.
	if math.Abs(res.Candidates[0].Score-10.0) > 1e-9 {
		t.Errorf("first candidate score = %g, want 10", res.Candidates[0].Score)
	}

	if len(res.Overlays) != 2 {
		t.Fatalf("got %d overlays, want 2", len(res.Overlays))
	}
	if len(res.Overlays[0].Points) != 5 || len(res.Overlays[1].Points) != 6 {
		t.Errorf("overlay lengths = %d/%d, want 5/6",
			len(res.Overlays[0].Points), len(res.Overlays[1].Points))
	}
}

func TestDonchianBreakout_BadParams(t *testing.T) {
	rc := strategy.RunContext{
		Bars:   closeSeries(1, 2, 3, 4),
		Params: map[string]any{"entry_window": 0},
	}
	if _, err := NewDonchianBreakout().Run(context.Background(), rc); err == nil {
		t.Fatal("Run accepted a zero entry window")
	}
}

func TestVolumeSurgeMarkers(t *testing.T) {
	bars := closeSeries(10, 10, 10, 10, 10, 10)
	for i := range bars {
		bars[i].Volume = 1000
	}
	// Bar 3: up bar on 5x volume.
	bars[3].Open = 9.5
	bars[3].Close = 10.5
	bars[3].Volume = 5000
	// Bar 4: heavy volume but a down bar, must not be flagged.
	bars[4].Open = 10.5
	bars[4].Close = 9.8
	bars[4].Volume = 5000

	rc := strategy.RunContext{
		Symbol: "TEST",
		Bars:   bars,
		Params: map[string]any{"window": 3, "ratio": 2.0},
		Mode:   domain.ModeScan,
	}
	res, err := NewVolumeSurge().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Markers) != 1 {
		t.Fatalf("got %d markers, want 1: %+v", len(res.Markers), res.Markers)
	}
	m := res.Markers[0]
	if !m.Time.Equal(testDay(3)) || m.Price != 10.5 {
		t.Errorf("marker = %+v, want day 3 price 10.5", m)
	}
	if m.Text != "VOL 5.0x" {
		t.Errorf("marker text = %q, want VOL 5.0x", m.Text)
	}
	// Sideless by construction: the engine backtests these with the
	// fixed-holding approximation.
	if m.Side() != "" {
		t.Errorf("marker side = %q, want sideless", m.Side())
	}
	if len(res.Trades) != 0 || len(res.Signals) != 0 {
		t.Errorf("volume surge should emit markers only, got %+v", res)
	}
}

func TestVolumeSurge_TooFewBars(t *testing.T) {
	rc := strategy.RunContext{
		Bars:   closeSeries(1, 2),
		Params: map[string]any{"window": 3},
	}
	res, err := NewVolumeSurge().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Markers) != 0 || res.StatusMessage == "" {
		t.Errorf("short series should yield no markers and a status message, got %+v", res)
	}
}
