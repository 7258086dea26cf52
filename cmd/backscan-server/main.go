package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backscan/internal/config"
	"backscan/internal/httpapi"
	"backscan/internal/runs"
	"backscan/internal/scan"
	"backscan/internal/store"
	"backscan/internal/strategy"
	"backscan/internal/strategy/builtins"
	"backscan/internal/util"
)

func main() {
	cfgPath := "config/backscan.yaml"
	if p := os.Getenv("BACKSCAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	barStore, closeStore := openBarStore(cfg)
	defer closeStore()

	registry := strategy.NewRegistry()
	if err := builtins.Register(registry); err != nil {
		log.Fatalf("registering strategies: %v", err)
	}

	scanner := scan.NewScanner(barStore, registry)
	runReg := runs.NewRegistry(cfg.Runs.HistoryPath, logger)
	api := httpapi.NewServer(scanner, registry, runReg, barStore, logger)

	host := cfg.Server.Host
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("backscan server listening",
			"addr", httpServer.Addr,
			"dataDir", cfg.Storage.DataDir,
			"strategies", len(registry.List()),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down backscan server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// openBarStore picks the bar backend: a configured sqlite path pins every
// market to that research database, otherwise bars come from the parquet
// layout under the data directory.
func openBarStore(cfg *config.Config) (store.BarStore, func()) {
	if cfg.Storage.SQLitePath != "" {
		s := store.NewSQLiteStore(cfg.Storage.DataDir, cfg.Storage.SQLitePath)
		return s, func() { s.Close() }
	}
	return store.NewParquetStore(cfg.Storage.DataDir), func() {}
}
