package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"backscan/internal/backtest"
	"backscan/internal/config"
	"backscan/internal/domain"
	"backscan/internal/scan"
	"backscan/internal/store"
	"backscan/internal/strategy"
	"backscan/internal/strategy/builtins"
	"backscan/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backscan-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  scan        Rank a strategy across a symbol universe\n")
		fmt.Fprintf(os.Stderr, "  backtest    Simulate a strategy portfolio and report KPIs\n")
		fmt.Fprintf(os.Stderr, "  preview     Run a strategy on one symbol and dump its output\n")
		fmt.Fprintf(os.Stderr, "  strategies  List registered strategies\n")
		fmt.Fprintf(os.Stderr, "  symbols     List symbols available in the bar store\n")
		fmt.Fprintf(os.Stderr, "  version     Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("backscan-cli %s\n", version)

	case "strategies":
		cmdStrategies()

	case "symbols":
		cmdSymbols(os.Args[2:])

	case "scan":
		cmdScan(os.Args[2:])

	case "backtest":
		cmdBacktest(os.Args[2:])

	case "preview":
		cmdPreview(os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

// engine bundles everything a command needs to run the pipeline in-process.
type engine struct {
	cfg      *config.Config
	store    store.BarStore
	registry *strategy.Registry
	scanner  *scan.Scanner
	close    func()
}

// openEngine loads config, opens the bar store, and wires the scanner with
// the bundled strategies. Commands run against local data, no server needed.
func openEngine(cfgPath string) *engine {
	if cfgPath == "" {
		cfgPath = "config/backscan.yaml"
		if p := os.Getenv("BACKSCAN_CONFIG"); p != "" {
			cfgPath = p
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var (
		barStore   store.BarStore
		closeStore = func() {}
	)
	if cfg.Storage.SQLitePath != "" {
		s := store.NewSQLiteStore(cfg.Storage.DataDir, cfg.Storage.SQLitePath)
		barStore, closeStore = s, func() { s.Close() }
	} else {
		barStore = store.NewParquetStore(cfg.Storage.DataDir)
	}

	registry := strategy.NewRegistry()
	if err := builtins.Register(registry); err != nil {
		log.Fatalf("registering strategies: %v", err)
	}

	return &engine{
		cfg:      cfg,
		store:    barStore,
		registry: registry,
		scanner:  scan.NewScanner(barStore, registry),
		close:    closeStore,
	}
}

// moneyFlags are the simulation parameters shared by scan and backtest.
// Rates default to -1 so an explicit zero survives the merge with config.
type moneyFlags struct {
	cash         *float64
	maxPositions *int
	positionPct  *float64
	fixedSize    *float64
	commission   *float64
	slippage     *float64
	holdingBars  *int
}

func addMoneyFlags(fs *flag.FlagSet) moneyFlags {
	return moneyFlags{
		cash:         fs.Float64("cash", 0, "initial cash (0 = config default)"),
		maxPositions: fs.Int("max-positions", 0, "maximum concurrent positions (0 = config default)"),
		positionPct:  fs.Float64("pct", 0, "position size as a fraction of initial cash (0 = config default)"),
		fixedSize:    fs.Float64("size", 0, "fixed share count per trade (overrides -pct)"),
		commission:   fs.Float64("commission", -1, "commission rate per leg (-1 = config default)"),
		slippage:     fs.Float64("slippage", -1, "slippage fraction, split across both legs (-1 = config default)"),
		holdingBars:  fs.Int("holding", 0, "holding period in bars for marker-only strategies (0 = config default)"),
	}
}

// merge folds the config defaults into unset flags. The engine fills its own
// defaults behind any field still zero.
func (mf moneyFlags) merge(cfg config.BacktestConfig) (cash float64, maxPos int, pct, size, commission, slippage float64, holding int) {
	cash = *mf.cash
	if cash == 0 {
		cash = cfg.InitialCash
	}
	maxPos = *mf.maxPositions
	if maxPos == 0 {
		maxPos = cfg.MaxPositions
	}
	pct = *mf.positionPct
	size = *mf.fixedSize
	if pct == 0 && size == 0 {
		pct = cfg.PositionPct
	}
	commission = *mf.commission
	if commission < 0 {
		commission = cfg.CommissionRate
	}
	slippage = *mf.slippage
	if slippage < 0 {
		slippage = cfg.Slippage
	}
	holding = *mf.holdingBars
	if holding == 0 {
		holding = cfg.HoldingBars
	}
	return
}

func cmdStrategies() {
	eng := openEngine("")
	defer eng.close()

	for _, d := range eng.registry.Definitions() {
		modes := make([]string, 0, 3)
		if d.Preview {
			modes = append(modes, "preview")
		}
		if d.Scan {
			modes = append(modes, "scan")
		}
		if d.Backtest {
			modes = append(modes, "backtest")
		}
		fmt.Printf("%-20s %-28s [%s]\n", d.Key, d.Title, strings.Join(modes, " "))
		if d.Description != "" {
			fmt.Printf("%-20s %s\n", "", d.Description)
		}
		for _, p := range d.Params {
			fmt.Printf("%-20s   -%s (%s, default %v)\n", "", p.Key, p.Type, p.Default)
		}
	}
}

func cmdSymbols(args []string) {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	market := fs.String("market", domain.MarketUS, "market to list")
	fs.Parse(args)

	eng := openEngine(*cfgPath)
	defer eng.close()

	symbols, err := eng.store.ListSymbols(context.Background(), *market)
	if err != nil {
		log.Fatalf("listing symbols: %v", err)
	}
	for _, sym := range symbols {
		fmt.Println(sym)
	}
	fmt.Fprintf(os.Stderr, "%d symbols in %s\n", len(symbols), *market)
}

func cmdScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	strategyKey := fs.String("strategy", "", "strategy key (required)")
	symbols := fs.String("symbols", "", "comma-separated symbols")
	all := fs.Bool("all", false, "scan every symbol in the store")
	market := fs.String("market", domain.MarketUS, "market")
	startStr := fs.String("start", "", "range start (YYYY-MM-DD)")
	endStr := fs.String("end", "", "range end (YYYY-MM-DD)")
	top := fs.Int("top", 20, "rows to print (0 = all)")
	workers := fs.Int("workers", 0, "concurrent symbol workers (0 = auto)")
	fs.Parse(args)

	eng := openEngine(*cfgPath)
	defer eng.close()
	money := eng.cfg.Backtest
	if eng.cfg.Scan.MaxWorkers > 0 && *workers == 0 {
		*workers = eng.cfg.Scan.MaxWorkers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req := domain.ScanRequest{
		StrategyKey:    *strategyKey,
		Universe:       resolveUniverse(ctx, eng, *symbols, *all, *market),
		Market:         *market,
		Start:          parseDateFlag(*startStr),
		End:            parseDateFlag(*endStr),
		InitialCash:    money.InitialCash,
		MaxPositions:   money.MaxPositions,
		PositionPct:    money.PositionPct,
		CommissionRate: money.CommissionRate,
		Slippage:       money.Slippage,
		HoldingBars:    money.HoldingBars,
		Concurrency:    *workers,
	}

	rep, err := eng.scanner.Scan(ctx, req, stderrProgress("scan"))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}
	fmt.Print(backtest.RenderScanReport(rep, *top))
}

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	strategyKey := fs.String("strategy", "", "strategy key (required)")
	symbols := fs.String("symbols", "", "comma-separated symbols")
	all := fs.Bool("all", false, "backtest every symbol in the store")
	market := fs.String("market", domain.MarketUS, "market")
	startStr := fs.String("start", "", "range start (YYYY-MM-DD)")
	endStr := fs.String("end", "", "range end (YYYY-MM-DD)")
	showTrades := fs.Int("trades", 20, "recent trades to print (0 = none)")
	workers := fs.Int("workers", 0, "concurrent symbol workers (0 = auto)")
	mf := addMoneyFlags(fs)
	fs.Parse(args)

	eng := openEngine(*cfgPath)
	defer eng.close()
	cash, maxPos, pct, size, commission, slippage, holding := mf.merge(eng.cfg.Backtest)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req := domain.BacktestRequest{
		StrategyKey:    *strategyKey,
		Universe:       resolveUniverse(ctx, eng, *symbols, *all, *market),
		Market:         *market,
		Start:          parseDateFlag(*startStr),
		End:            parseDateFlag(*endStr),
		InitialCash:    cash,
		MaxPositions:   maxPos,
		PositionPct:    pct,
		FixedSize:      size,
		CommissionRate: commission,
		Slippage:       slippage,
		HoldingBars:    holding,
		Concurrency:    *workers,
	}

	rep, err := eng.scanner.Backtest(ctx, req, stderrProgress("backtest"))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	fmt.Print(backtest.RenderBacktestReport(rep))
	if *showTrades > 0 && len(rep.Trades) > 0 {
		fmt.Println()
		fmt.Print(backtest.RenderTrades(rep.Trades, *showTrades))
	}
}

func cmdPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	strategyKey := fs.String("strategy", "", "strategy key (required)")
	symbol := fs.String("symbol", "", "symbol (required)")
	market := fs.String("market", domain.MarketUS, "market")
	startStr := fs.String("start", "", "range start (YYYY-MM-DD)")
	endStr := fs.String("end", "", "range end (YYYY-MM-DD)")
	fs.Parse(args)

	eng := openEngine(*cfgPath)
	defer eng.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := eng.scanner.Preview(ctx, domain.ScanRequest{
		StrategyKey: *strategyKey,
		Universe:    []string{strings.ToUpper(*symbol)},
		Market:      *market,
		Start:       parseDateFlag(*startStr),
		End:         parseDateFlag(*endStr),
	})
	if err != nil {
		log.Fatalf("preview failed: %v", err)
	}

	res := rep.Result
	fmt.Printf("Preview %s on %s (%s)\n", rep.StrategyKey, rep.Symbol, rep.Elapsed.Round(time.Millisecond))
	if res.StatusMessage != "" {
		fmt.Printf("  %s\n", res.StatusMessage)
	}
	fmt.Printf("  markers %d, overlays %d, trades %d, signals %d, candidates %d\n",
		len(res.Markers), len(res.Overlays), len(res.Trades), len(res.Signals), len(res.Candidates))
	for _, m := range res.Markers {
		fmt.Printf("  marker %s  %-10s %s\n", m.Time.Format("2006-01-02"), m.Text, backtest.FormatPrice(m.Price))
	}
	if len(rep.Proposals) > 0 {
		fmt.Printf("proposals:\n")
		for _, p := range rep.Proposals {
			fmt.Printf("  %s -> %s  %s @ %s  %s\n",
				p.EntryTime.Format("2006-01-02"), p.ExitTime.Format("2006-01-02"),
				backtest.FormatPrice(p.EntryPrice), backtest.FormatPrice(p.ExitPrice), p.Reason)
		}
	}
}

// resolveUniverse expands the -symbols/-all flags into the symbol list.
func resolveUniverse(ctx context.Context, eng *engine, symbols string, all bool, market string) []string {
	if all {
		list, err := eng.store.ListSymbols(ctx, market)
		if err != nil {
			log.Fatalf("listing symbols: %v", err)
		}
		return list
	}
	var out []string
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDateFlag(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := util.ParseDate(s)
	if err != nil {
		log.Fatalf("invalid date %q: %v", s, err)
	}
	return ts
}

// stderrProgress writes an in-place n/m counter. Workers report from several
// goroutines, so writes are serialized.
func stderrProgress(label string) scan.ProgressFunc {
	var mu sync.Mutex
	return func(p domain.Progress) {
		mu.Lock()
		fmt.Fprintf(os.Stderr, "\r%s %d/%d %-10s", label, p.Completed, p.Total, p.Symbol)
		mu.Unlock()
	}
}
