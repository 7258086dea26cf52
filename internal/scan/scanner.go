// Package scan runs strategies across symbol universes with bounded
// concurrency and assembles ranked scan reports, portfolio backtests, and
// single-symbol previews.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"backscan/internal/backtest"
	"backscan/internal/domain"
	"backscan/internal/store"
	"backscan/internal/strategy"
)

// Failure stages recorded on SymbolFailure rows.
const (
	stageData      = "data"
	stageStrategy  = "strategy"
	stageNormalize = "normalize"
)

// Row payload bounds. Scores count the full strategy output; the row
// carries only the head of each list so thousand-symbol reports stay
// bounded.
const (
	maxRowCandidates = 5
	maxRowMarkers    = 10
)

// ProgressFunc receives an update after each symbol finishes. It may be
// called from multiple worker goroutines at once.
type ProgressFunc func(domain.Progress)

// Scanner drives strategy runs across a universe of symbols.
type Scanner struct {
	store    store.BarStore
	registry *strategy.Registry
	log      *slog.Logger
}

// NewScanner creates a Scanner reading bars from the given store and
// resolving strategies in the given registry.
func NewScanner(barStore store.BarStore, registry *strategy.Registry) *Scanner {
	return &Scanner{
		store:    barStore,
		registry: registry,
		log:      slog.Default().With("component", "scan"),
	}
}

// symbolJob is the unit of work handed to pool workers.
type symbolJob struct {
	symbol      string
	market      string
	strategyKey string
	params      map[string]any
	start       time.Time
	end         time.Time
	holdingBars int
	mode        string
}

// symbolResult is one evaluated symbol. A zero value means the job never
// ran (the scan was cancelled first). err is staged so reports can say
// where the symbol fell over.
type symbolResult struct {
	done      bool
	bars      []domain.Bar
	res       *domain.RunResult
	proposals []domain.Proposal
	stage     string
	err       error
}

// Scan evaluates the strategy over every symbol in the universe and returns
// ranked rows. Per-symbol failures are recorded, never fatal; cancellation
// keeps the rows finished so far and marks the report cancelled.
func (s *Scanner) Scan(ctx context.Context, req domain.ScanRequest, onProgress ProgressFunc) (*domain.ScanReport, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.registry.Get(req.StrategyKey); !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("unknown strategy %q", req.StrategyKey)}
	}

	jobs := s.buildJobs(req.Universe, req.Market, req.StrategyKey, req.Params,
		req.Start, req.End, req.HoldingBars, domain.ModeScan)

	runStart := time.Now()
	s.log.Info("starting scan",
		"strategy", req.StrategyKey,
		"universe", len(jobs),
		"workers", concurrencyFor(req.Concurrency, len(jobs)),
	)
	results := s.runUniverse(ctx, jobs, req.Concurrency, onProgress)

	sim := backtest.SimConfig{
		InitialCash:    req.InitialCash,
		MaxPositions:   req.MaxPositions,
		PositionPct:    req.PositionPct,
		FixedSize:      req.FixedSize,
		CommissionRate: req.CommissionRate,
		Slippage:       req.Slippage,
	}

	report := &domain.ScanReport{
		StrategyKey: req.StrategyKey,
		Total:       len(jobs),
	}
	var ranked []domain.SymbolKpis
	for i, ev := range results {
		if !ev.done {
			continue
		}
		report.Completed++
		if ev.err != nil {
			report.Failures = append(report.Failures, domain.SymbolFailure{
				Symbol: jobs[i].symbol,
				Stage:  ev.stage,
				Err:    ev.err.Error(),
			})
			continue
		}
		row := buildRow(jobs[i], ev)
		if row == nil {
			continue
		}
		if len(ev.proposals) > 0 {
			led := backtest.Simulate(ev.proposals, sim)
			kpis := backtest.ComputeKpis(led)
			row.Kpis = &kpis
			ranked = append(ranked, domain.SymbolKpis{Symbol: row.Symbol, Kpis: kpis})
		}
		report.Rows = append(report.Rows, *row)
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].Score != report.Rows[j].Score {
			return report.Rows[i].Score > report.Rows[j].Score
		}
		return report.Rows[i].Symbol < report.Rows[j].Symbol
	})
	for i := range report.Rows {
		report.Rows[i].Rank = i + 1
	}
	report.Summary = backtest.SummarizeUniverse(ranked, 0, backtest.RankByReturn)
	report.Cancelled = ctx.Err() != nil
	report.Elapsed = time.Since(runStart)

	s.log.Info("scan complete",
		"strategy", req.StrategyKey,
		"rows", len(report.Rows),
		"failures", len(report.Failures),
		"completed", fmt.Sprintf("%d/%d", report.Completed, report.Total),
		"cancelled", report.Cancelled,
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	return report, nil
}

// Backtest runs the same per-symbol pipeline as Scan, pools every proposal,
// and simulates one portfolio across the whole universe.
func (s *Scanner) Backtest(ctx context.Context, req domain.BacktestRequest, onProgress ProgressFunc) (*domain.BacktestReport, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.registry.Get(req.StrategyKey); !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("unknown strategy %q", req.StrategyKey)}
	}

	jobs := s.buildJobs(req.Universe, req.Market, req.StrategyKey, req.Params,
		req.Start, req.End, req.HoldingBars, domain.ModeBacktest)

	runStart := time.Now()
	s.log.Info("starting backtest",
		"strategy", req.StrategyKey,
		"universe", len(jobs),
		"workers", concurrencyFor(req.Concurrency, len(jobs)),
	)
	results := s.runUniverse(ctx, jobs, req.Concurrency, onProgress)

	report := &domain.BacktestReport{StrategyKey: req.StrategyKey}
	var proposals []domain.Proposal
	completed := 0
	for i, ev := range results {
		if !ev.done {
			continue
		}
		completed++
		if ev.err != nil {
			report.Failures = append(report.Failures, domain.SymbolFailure{
				Symbol: jobs[i].symbol,
				Stage:  ev.stage,
				Err:    ev.err.Error(),
			})
			continue
		}
		proposals = append(proposals, ev.proposals...)
	}

	led := backtest.Simulate(proposals, backtest.SimConfig{
		InitialCash:    req.InitialCash,
		MaxPositions:   req.MaxPositions,
		PositionPct:    req.PositionPct,
		FixedSize:      req.FixedSize,
		CommissionRate: req.CommissionRate,
		Slippage:       req.Slippage,
	})
	report.Kpis = backtest.ComputeKpis(led)
	report.EquityCurve = led.EquityCurve
	report.Trades = led.Trades
	report.Skipped = led.Skipped
	report.Cancelled = ctx.Err() != nil
	report.Elapsed = time.Since(runStart)
	if report.Cancelled {
		report.Notes = fmt.Sprintf("evaluated %d of %d symbols", completed, len(jobs))
	}

	s.log.Info("backtest complete",
		"strategy", req.StrategyKey,
		"trades", report.Kpis.TradeCount,
		"skipped", report.Kpis.SkippedCount,
		"failures", len(report.Failures),
		"completed", fmt.Sprintf("%d/%d", completed, len(jobs)),
		"cancelled", report.Cancelled,
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	return report, nil
}

// Preview runs the strategy for exactly one symbol and returns its raw
// output plus the derived proposals, for chart-style consumers.
func (s *Scanner) Preview(ctx context.Context, req domain.ScanRequest) (*domain.PreviewReport, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Universe) != 1 {
		return nil, &domain.ValidationError{Msg: "preview takes exactly one symbol"}
	}
	if _, ok := s.registry.Get(req.StrategyKey); !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("unknown strategy %q", req.StrategyKey)}
	}

	jobs := s.buildJobs(req.Universe, req.Market, req.StrategyKey, req.Params,
		req.Start, req.End, req.HoldingBars, domain.ModePreview)

	runStart := time.Now()
	ev := s.evalSymbol(ctx, jobs[0])
	if ev.err != nil {
		return nil, ev.err
	}
	return &domain.PreviewReport{
		StrategyKey: req.StrategyKey,
		Symbol:      jobs[0].symbol,
		Result:      ev.res,
		Proposals:   ev.proposals,
		Elapsed:     time.Since(runStart),
	}, nil
}

// buildJobs expands a universe into per-symbol work items. A zero end is
// pinned to now so open-ended requests stay bounded.
func (s *Scanner) buildJobs(universe []string, market, key string, params map[string]any,
	start, end time.Time, holdingBars int, mode string) []symbolJob {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	jobs := make([]symbolJob, len(universe))
	for i, sym := range universe {
		jobs[i] = symbolJob{
			symbol:      sym,
			market:      market,
			strategyKey: key,
			params:      params,
			start:       start,
			end:         end,
			holdingBars: holdingBars,
			mode:        mode,
		}
	}
	return jobs
}

// runUniverse evaluates every job with a bounded worker pool. Results land
// at their universe index so assembly order never depends on worker
// interleaving. Cancellation is honored at symbol boundaries: in-flight
// symbols finish, the rest stay unevaluated.
func (s *Scanner) runUniverse(ctx context.Context, jobs []symbolJob, concurrency int, onProgress ProgressFunc) []symbolResult {
	results := make([]symbolResult, len(jobs))

	idxCh := make(chan int, len(jobs))
	for i := range jobs {
		idxCh <- i
	}
	close(idxCh)

	var (
		wg        sync.WaitGroup
		completed atomic.Int64
	)
	workers := concurrencyFor(concurrency, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				if ctx.Err() != nil {
					return
				}
				results[i] = s.evalSymbol(ctx, jobs[i])
				done := int(completed.Add(1))
				if onProgress != nil {
					onProgress(domain.Progress{
						Completed: done,
						Total:     len(jobs),
						Symbol:    jobs[i].symbol,
					})
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// evalSymbol runs the per-symbol pipeline: load bars, execute the strategy,
// normalize the output into proposals. The whole history up to the range
// end is loaded so indicators can warm up before the scan window.
func (s *Scanner) evalSymbol(ctx context.Context, job symbolJob) symbolResult {
	out := symbolResult{done: true}

	bars, err := s.store.ReadBars(ctx, job.symbol, job.market, time.Time{}, job.end)
	if err != nil {
		if errors.Is(err, store.ErrNoData) {
			err = &domain.DataUnavailableError{Symbol: job.symbol, Market: job.market, Err: err}
		}
		out.stage, out.err = stageData, err
		return out
	}
	if len(bars) == 0 {
		out.stage = stageData
		out.err = &domain.DataUnavailableError{Symbol: job.symbol, Market: job.market, Err: store.ErrNoData}
		return out
	}
	out.bars = bars

	res, err := s.registry.Run(ctx, job.strategyKey, strategy.RunContext{
		Symbol: job.symbol,
		Bars:   bars,
		Params: job.params,
		Start:  job.start,
		End:    job.end,
		Mode:   job.mode,
	})
	if err != nil {
		out.stage, out.err = stageStrategy, err
		return out
	}
	out.res = res

	proposals, err := backtest.Normalize(job.symbol, res, bars, backtest.Options{HoldingBars: job.holdingBars})
	if err != nil {
		out.stage, out.err = stageNormalize, err
		return out
	}
	out.proposals = proposals
	return out
}

// buildRow turns one evaluated symbol into a scan row. Candidates win; a
// symbol whose strategy emitted trades or signals is scored by proposal
// count; bare markers fall back to the marker count with the last known
// close. Symbols with no output produce no row.
func buildRow(job symbolJob, ev symbolResult) *domain.ScanRow {
	candidates := filterCandidates(ev.res.Candidates, job.start, job.end)
	if len(candidates) > 0 {
		primary := candidates[0]
		row := &domain.ScanRow{
			Symbol:     job.symbol,
			Score:      primary.Score,
			Confidence: primary.Confidence,
			EntryDate:  primary.Time,
			EntryPrice: primary.Price,
			Note:       primary.Note,
			Candidates: head(candidates, maxRowCandidates),
			Markers:    head(ev.res.Markers, maxRowMarkers),
		}
		if row.EntryPrice == 0 {
			row.EntryPrice = lastClose(ev.bars)
		}
		return row
	}
	if (len(ev.res.Trades) > 0 || len(ev.res.Signals) > 0) && len(ev.proposals) > 0 {
		last := ev.proposals[len(ev.proposals)-1]
		return &domain.ScanRow{
			Symbol:     job.symbol,
			Score:      float64(len(ev.proposals)),
			EntryDate:  last.EntryTime,
			EntryPrice: last.EntryPrice,
			Note:       "derived from trades",
			Markers:    head(ev.res.Markers, maxRowMarkers),
		}
	}
	markers := filterMarkers(ev.res.Markers, job.start, job.end)
	if len(markers) > 0 {
		last := markers[len(markers)-1]
		return &domain.ScanRow{
			Symbol:     job.symbol,
			Score:      float64(len(markers)),
			EntryDate:  last.Time,
			EntryPrice: lastClose(ev.bars),
			Markers:    head(markers, maxRowMarkers),
		}
	}
	return nil
}

// head caps a row payload list without copying.
func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// filterCandidates keeps candidates inside the window, best score first.
func filterCandidates(candidates []domain.Candidate, start, end time.Time) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range candidates {
		if inWindow(c.Time, start, end) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// filterMarkers keeps markers inside the window, original order.
func filterMarkers(markers []domain.Marker, start, end time.Time) []domain.Marker {
	var out []domain.Marker
	for _, m := range markers {
		if inWindow(m.Time, start, end) {
			out = append(out, m)
		}
	}
	return out
}

// inWindow treats a zero start or end as unbounded.
func inWindow(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}

func lastClose(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

// concurrencyFor sizes the worker pool. Per-symbol work is light once bars
// are on local disk, so a few workers per core is plenty.
func concurrencyFor(requested, jobs int) int {
	workers := requested
	if workers <= 0 {
		workers = min(32, 4*runtime.NumCPU())
	}
	return min(workers, max(jobs, 1))
}
