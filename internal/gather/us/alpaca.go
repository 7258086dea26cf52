// Package us gathers daily US equity bars from the Alpaca market-data API
// into the bar store.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backscan/internal/domain"
	"backscan/internal/gather"
	"backscan/internal/store"
	"backscan/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

const fetchAttempts = 3

// DailyBarGatherer gathers daily bar data for US equities via the Alpaca
// market-data API. It tries every possible 1-4 character A-Z symbol
// combination plus 5+ char symbols from a CSV file, and feeds the bar store
// that scans and backtests read from.
type DailyBarGatherer struct {
	client     *marketdata.Client
	store      store.BarStore
	dataDir    string // root for progress and universe files
	batchSize  int    // symbols per API call
	maxWorkers int    // concurrent goroutines
	startDate  string
	csvPath    string
	apiKey     string
	apiSecret  string
	baseURL    string // live trading API for calendar
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer configured with the given
// Alpaca credentials, target store, and batch parameters.
func NewDailyBarGatherer(
	apiKey, apiSecret, dataURL string,
	s store.BarStore,
	dataDir string,
	batchSize, maxWorkers, rateLimitPerMin int,
	startDate, csvPath, baseURL string,
) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &DailyBarGatherer{
		client:     marketdata.NewClient(opts),
		store:      s,
		dataDir:    dataDir,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		startDate:  startDate,
		csvPath:    csvPath,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		log:        slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches daily bars for all brute-force US equity symbols from the
// Alpaca API and writes them to the bar store. It is resumable and
// idempotent within a day.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}

	// 1. Determine end date from trading calendar.
	endDate, err := g.latestFinishedTradingDay()
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endDateStr := endDate.Format("2006-01-02")

	// 2. Open the backfill journal.
	dailyDir := filepath.Join(g.dataDir, domain.MarketUS, "daily")
	journal, err := openBackfillJournal(dailyDir)
	if err != nil {
		return fmt.Errorf("opening backfill journal: %w", err)
	}

	// 3. Idempotency and resume. A checkpoint from an earlier session makes
	// the no-data list stale: symbols empty then may trade now. No
	// checkpoint means first run or mid-session crash, so the list is kept.
	switch cp := journal.Checkpoint(); {
	case cp == endDateStr:
		g.log.Info("already completed", "session", endDateStr)
		return nil
	case cp != "":
		if err := journal.Drop(); err != nil {
			return fmt.Errorf("dropping stale journal: %w", err)
		}
	}

	// 4. Build skip set: known-empty plus symbols already in the store.
	existing, err := g.store.ListSymbols(ctx, domain.MarketUS)
	if err != nil {
		return fmt.Errorf("listing existing symbols: %w", err)
	}
	skipSet := make(map[string]struct{}, len(existing))
	for _, sym := range existing {
		skipSet[sym] = struct{}{}
	}

	// 5. Enumerate candidate symbols and filter.
	allSymbols, err := ProbeSymbols(g.csvPath)
	if err != nil {
		return fmt.Errorf("generating symbols: %w", err)
	}

	var remaining []string
	for _, sym := range allSymbols {
		if _, skip := skipSet[sym]; skip {
			continue
		}
		if journal.HasNoData(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}

	batches := splitBatches(remaining, g.batchSize)

	g.log.Info("starting us-daily",
		"session", endDateStr,
		"total", len(allSymbols),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	if len(remaining) == 0 {
		if err := journal.SetCheckpoint(endDateStr); err != nil {
			return fmt.Errorf("writing checkpoint: %w", err)
		}
		g.log.Info("no remaining symbols to process")
		return nil
	}

	// 6. Set up the universe index.
	universeDir := filepath.Join(g.dataDir, domain.MarketUS, "universe")
	universe := newUniverseIndex(universeDir)

	// 7. Feed batches to workers.
	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalHits atomic.Int64
		totalMiss atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}

				batch := batches[batchIdx]
				bars, err := g.fetchMultiBars(ctx, batch, start, endDate)
				if err != nil {
					g.log.Error("batch fetch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}

				// Determine hits and misses.
				hitSymbols := make(map[string]struct{})
				for _, b := range bars {
					hitSymbols[b.Symbol] = struct{}{}
				}

				var emptySymbols []string
				for _, sym := range batch {
					if _, hit := hitSymbols[sym]; !hit {
						emptySymbols = append(emptySymbols, sym)
					}
				}

				// Write bars to store.
				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, domain.MarketUS, bars); err != nil {
						g.log.Error("writing bars failed", "err", err)
						continue
					}
					universe.Observe(bars)
					if err := universe.Flush(); err != nil {
						g.log.Error("flushing universe failed", "err", err)
					}
				}

				// Record empty symbols.
				if len(emptySymbols) > 0 {
					if err := journal.RecordNoData(emptySymbols); err != nil {
						g.log.Error("recording empty symbols failed", "err", err)
					}
				}

				hits := int64(len(hitSymbols))
				misses := int64(len(emptySymbols))
				totalHits.Add(hits)
				totalMiss.Add(misses)

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"hits", hits,
					"empty", misses,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// 8. Flush anything still buffered and checkpoint the session.
	if err := universe.Flush(); err != nil {
		return fmt.Errorf("flushing universe: %w", err)
	}
	if err := journal.SetCheckpoint(endDateStr); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}

	g.log.Info("complete",
		"hits", totalHits.Load(),
		"empty", totalMiss.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API
// call, rate-limited across workers and retried on transient failures.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, fetchAttempts, 2*time.Second, func() error {
		var err error
		multiBars, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      "sip",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	return convertMultiBars(multiBars), nil
}

// splitBatches divides symbols into slices of at most size entries.
func splitBatches(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var batches [][]string
	for i := 0; i < len(symbols); i += size {
		end := min(i+size, len(symbols))
		batches = append(batches, symbols[i:end])
	}
	return batches
}

// convertMultiBars flattens an Alpaca multi-bars response into domain bars
// with uppercased symbols.
func convertMultiBars(multiBars map[string][]marketdata.Bar) []domain.Bar {
	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars
}
