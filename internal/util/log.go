// Package util provides shared utility functions for logging, retries, rate
// limiting, and date handling.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured slog logger on stdout. Level is one of
// "debug", "info", "warn", "error" (default "info"); format is "json" or
// "text" (default "json"). Long-running services log JSON for ingestion,
// interactive tools usually want text.
func NewLogger(level, format string) *slog.Logger {
	slevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: slevel}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
