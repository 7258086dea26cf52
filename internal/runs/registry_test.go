package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"backscan/internal/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.json")
	return NewRegistry(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func recvEvent(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestBeginAndGet(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindScan, "sma-cross", nil)
	if run.ID == "" {
		t.Fatal("Begin returned empty id")
	}
	if run.Status != StatusRunning {
		t.Fatalf("status = %q, want %q", run.Status, StatusRunning)
	}
	if run.StartedAt.IsZero() {
		t.Fatal("StartedAt is zero")
	}

	got, ok := reg.Get(run.ID)
	if !ok {
		t.Fatal("Get did not find the run")
	}
	if got.Kind != KindScan || got.StrategyKey != "sma-cross" {
		t.Fatalf("got kind=%q strategy=%q", got.Kind, got.StrategyKey)
	}

	if _, ok := reg.Get("01ZZZZZZZZZZZZZZZZZZZZZZZZ"); ok {
		t.Fatal("Get found a run that was never registered")
	}
}

func TestFinishScanPersistsSummary(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "runs.json")
	reg := NewRegistry(path, log)

	run := reg.Begin(KindScan, "sma-cross", nil)
	reg.FinishScan(run.ID, &domain.ScanReport{
		Rows:      make([]domain.ScanRow, 3),
		Failures:  make([]domain.SymbolFailure, 1),
		Completed: 5,
		Total:     5,
	})

	got, ok := reg.Get(run.ID)
	if !ok {
		t.Fatal("run vanished after finish")
	}
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want %q", got.Status, StatusDone)
	}
	if got.Scan == nil || len(got.Scan.Rows) != 3 {
		t.Fatalf("scan report not attached: %+v", got.Scan)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("FinishedAt is zero")
	}
	if got.Progress.Completed != 5 || got.Progress.Total != 5 {
		t.Fatalf("progress = %+v, want 5/5", got.Progress)
	}

	// A fresh registry on the same file sees the summary but not the payload.
	reopened := NewRegistry(path, log)
	hist := reopened.History()
	if len(hist) != 1 {
		t.Fatalf("history has %d entries, want 1", len(hist))
	}
	sum := hist[0]
	if sum.ID != run.ID || sum.Kind != KindScan || sum.Status != StatusDone {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Rows != 3 || sum.Failures != 1 {
		t.Fatalf("summary counts rows=%d failures=%d, want 3/1", sum.Rows, sum.Failures)
	}
	if _, ok := reopened.Get(run.ID); ok {
		t.Fatal("full run payload should not survive a restart")
	}
}

func TestFinishScan_CancelledReport(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindScan, "sma-cross", nil)
	reg.FinishScan(run.ID, &domain.ScanReport{Cancelled: true, Completed: 2, Total: 8})

	got, _ := reg.Get(run.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, StatusCancelled)
	}
}

func TestFinishBacktest(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindBacktest, "donchian-breakout", nil)
	reg.FinishBacktest(run.ID, &domain.BacktestReport{
		Kpis: domain.Kpis{TradeCount: 4},
	})

	got, _ := reg.Get(run.ID)
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want %q", got.Status, StatusDone)
	}
	if got.Backtest == nil || got.Backtest.Kpis.TradeCount != 4 {
		t.Fatalf("backtest report not attached: %+v", got.Backtest)
	}

	hist := reg.History()
	if len(hist) != 1 || hist[0].Trades != 4 {
		t.Fatalf("history = %+v, want one entry with 4 trades", hist)
	}
}

func TestFail(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindScan, "sma-cross", nil)
	reg.Fail(run.ID, errors.New("store exploded"))

	got, _ := reg.Get(run.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, StatusFailed)
	}
	if got.Error != "store exploded" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestFail_ContextCancellationMapsToCancelled(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindBacktest, "sma-cross", nil)
	reg.Fail(run.ID, context.Canceled)

	got, _ := reg.Get(run.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, StatusCancelled)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)

	run := reg.Begin(KindScan, "sma-cross", nil)
	reg.FinishScan(run.ID, &domain.ScanReport{Completed: 1, Total: 1})
	reg.Fail(run.ID, errors.New("late error must not clobber the result"))

	got, _ := reg.Get(run.ID)
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want %q", got.Status, StatusDone)
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want empty", got.Error)
	}
	if len(reg.History()) != 1 {
		t.Fatalf("history has %d entries, want 1", len(reg.History()))
	}
}

func TestCancelInvokesCancelFunc(t *testing.T) {
	reg := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	run := reg.Begin(KindScan, "sma-cross", cancel)

	if !reg.Cancel(run.ID) {
		t.Fatal("Cancel returned false for a running run")
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel func was not invoked")
	}

	if reg.Cancel("01ZZZZZZZZZZZZZZZZZZZZZZZZ") {
		t.Fatal("Cancel returned true for an unknown run")
	}

	reg.FinishScan(run.ID, &domain.ScanReport{Cancelled: true})
	if reg.Cancel(run.ID) {
		t.Fatal("Cancel returned true for a finished run")
	}
}

func TestSubscribeStreamsProgressAndFinalStatus(t *testing.T) {
	reg := newTestRegistry(t)
	run := reg.Begin(KindScan, "sma-cross", nil)

	subID, ch, ok := reg.Subscribe(run.ID, 8)
	if !ok {
		t.Fatal("Subscribe did not find the run")
	}
	defer reg.Unsubscribe(run.ID, subID)

	e, _ := recvEvent(t, ch)
	if e.Type != "status" || e.Status != StatusRunning {
		t.Fatalf("first event = %+v, want running status snapshot", e)
	}

	reg.ReportProgress(run.ID, domain.Progress{Completed: 1, Total: 3, Symbol: "AAA"})
	e, _ = recvEvent(t, ch)
	if e.Type != "progress" || e.Progress == nil {
		t.Fatalf("second event = %+v, want progress", e)
	}
	if e.Progress.Completed != 1 || e.Progress.Total != 3 || e.Progress.Symbol != "AAA" {
		t.Fatalf("progress payload = %+v", *e.Progress)
	}
	if e.RunID != run.ID {
		t.Fatalf("event run id = %q, want %q", e.RunID, run.ID)
	}

	reg.FinishScan(run.ID, &domain.ScanReport{Completed: 3, Total: 3})
	e, _ = recvEvent(t, ch)
	if e.Type != "status" || e.Status != StatusDone {
		t.Fatalf("final event = %+v, want done status", e)
	}

	if _, open := recvEvent(t, ch); open {
		t.Fatal("channel still open after run finished")
	}
}

func TestSubscribeToFinishedRun(t *testing.T) {
	reg := newTestRegistry(t)
	run := reg.Begin(KindScan, "sma-cross", nil)
	reg.Fail(run.ID, errors.New("boom"))

	subID, ch, ok := reg.Subscribe(run.ID, 4)
	if !ok {
		t.Fatal("Subscribe did not find the finished run")
	}

	e, _ := recvEvent(t, ch)
	if e.Type != "status" || e.Status != StatusFailed || e.Error != "boom" {
		t.Fatalf("event = %+v, want failed status with error", e)
	}
	if _, open := recvEvent(t, ch); open {
		t.Fatal("channel for a finished run should arrive closed")
	}

	// Harmless on the already-closed subscription.
	reg.Unsubscribe(run.ID, subID)
}

func TestSubscribeUnknownRun(t *testing.T) {
	reg := newTestRegistry(t)
	if _, _, ok := reg.Subscribe("01ZZZZZZZZZZZZZZZZZZZZZZZZ", 4); ok {
		t.Fatal("Subscribe found a run that was never registered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	reg := newTestRegistry(t)
	run := reg.Begin(KindScan, "sma-cross", nil)

	// Buffer of one is filled by the snapshot; everything after is dropped.
	_, ch, ok := reg.Subscribe(run.ID, 1)
	if !ok {
		t.Fatal("Subscribe did not find the run")
	}
	for i := 1; i <= 3; i++ {
		reg.ReportProgress(run.ID, domain.Progress{Completed: i, Total: 3})
	}
	reg.FinishScan(run.ID, &domain.ScanReport{Completed: 3, Total: 3})

	e, _ := recvEvent(t, ch)
	if e.Type != "status" || e.Status != StatusRunning {
		t.Fatalf("first event = %+v, want the snapshot", e)
	}
	if _, open := recvEvent(t, ch); open {
		t.Fatal("expected dropped events and a closed channel")
	}

	// The authoritative state is still there.
	got, _ := reg.Get(run.ID)
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want %q", got.Status, StatusDone)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	reg := newTestRegistry(t)
	run := reg.Begin(KindScan, "sma-cross", nil)

	subID, ch, _ := reg.Subscribe(run.ID, 4)
	reg.Unsubscribe(run.ID, subID)

	e, open := recvEvent(t, ch)
	if !open || e.Type != "status" {
		t.Fatalf("expected the buffered snapshot, got %+v open=%v", e, open)
	}
	if _, open := recvEvent(t, ch); open {
		t.Fatal("channel still open after Unsubscribe")
	}

	// Must not panic with no subscribers left.
	reg.ReportProgress(run.ID, domain.Progress{Completed: 1, Total: 2})
	reg.FinishScan(run.ID, &domain.ScanReport{Completed: 2, Total: 2})
}

func TestListNewestFirst(t *testing.T) {
	reg := newTestRegistry(t)

	first := reg.Begin(KindScan, "a", nil)
	second := reg.Begin(KindScan, "b", nil)
	third := reg.Begin(KindBacktest, "c", nil)

	runs := reg.List()
	if len(runs) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(runs))
	}
	want := []string{third.ID, second.ID, first.ID}
	for i, r := range runs {
		if r.ID != want[i] {
			t.Fatalf("List[%d] = %s, want %s", i, r.ID, want[i])
		}
	}
}

func TestLoadToleratesMissingAndCorruptFiles(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	missing := NewRegistry(filepath.Join(t.TempDir(), "nope", "runs.json"), log)
	if len(missing.History()) != 0 {
		t.Fatal("missing file should load as empty history")
	}

	path := filepath.Join(t.TempDir(), "runs.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	corrupt := NewRegistry(path, log)
	if len(corrupt.History()) != 0 {
		t.Fatal("corrupt file should load as empty history")
	}
}

func TestConcurrentProgressAndSubscribers(t *testing.T) {
	reg := newTestRegistry(t)
	run := reg.Begin(KindScan, "sma-cross", nil)

	var producers sync.WaitGroup
	for w := 0; w < 4; w++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			for i := 0; i < 50; i++ {
				reg.ReportProgress(run.ID, domain.Progress{Completed: i, Total: 50})
			}
		}()
	}
	var subscribers sync.WaitGroup
	for s := 0; s < 2; s++ {
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			_, ch, ok := reg.Subscribe(run.ID, 4)
			if !ok {
				return
			}
			// Drain until run completion closes the channel.
			for range ch {
			}
		}()
	}

	producers.Wait()
	reg.FinishScan(run.ID, &domain.ScanReport{Completed: 50, Total: 50})
	subscribers.Wait()

	got, _ := reg.Get(run.ID)
	if got.Status != StatusDone {
		t.Fatalf("status = %q, want %q", got.Status, StatusDone)
	}
}
