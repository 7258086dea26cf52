package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backscan/internal/config"
	"backscan/internal/gather/us"
	"backscan/internal/store"
)

func main() {
	cfgPath := "config/backscan.yaml"
	if p := os.Getenv("BACKSCAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/us-alpaca-data-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	csvPath := "reference/us/symbol_5_chars.csv"

	gatherer := us.NewDailyBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		pstore,
		cfg.Storage.DataDir,
		cfg.Gather.USDaily.BatchSize,
		cfg.Gather.USDaily.MaxWorkers,
		cfg.Gather.USDaily.RateLimitPerMin,
		cfg.Gather.USDaily.StartDate,
		csvPath,
		cfg.Alpaca.BaseURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-alpaca-data daemon", "logFile", logFileName, "dataDir", cfg.Storage.DataDir)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("daemon error: %v", err)
	}
}
