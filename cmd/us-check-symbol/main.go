// One-shot tool: check a symbol's daily bars across the raw parquet files,
// the store read path, and the sqlite research database to diagnose
// discrepancies.
//
// Usage:
//
//	go run cmd/us-check-symbol/main.go FSLY [us]
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backscan/internal/config"
	"backscan/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: us-check-symbol SYMBOL [MARKET]")
		os.Exit(1)
	}
	sym := strings.ToUpper(os.Args[1])
	market := "us"
	if len(os.Args) > 2 {
		market = os.Args[2]
	}

	cfgPath := "config/backscan.yaml"
	if p := os.Getenv("BACKSCAN_CONFIG"); p != "" {
		cfgPath = p
	}
	dataDir := os.Getenv("DATA_1")
	sqlitePath := os.Getenv("SQLITE_PATH")
	if cfg, err := config.Load(cfgPath); err == nil {
		dataDir = cfg.Storage.DataDir
		sqlitePath = cfg.Storage.SQLitePath
	}
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "no data dir: set DATA_1 or provide a config file")
		os.Exit(1)
	}

	fmt.Printf("=== %s in %s (%s) ===\n\n", sym, market, dataDir)
	ctx := context.Background()

	// --- Raw parquet year files ---
	fmt.Println("--- Parquet year files ---")
	symDir := filepath.Join(dataDir, market, "daily", sym)
	entries, err := os.ReadDir(symDir)
	if err != nil {
		fmt.Printf("  %v\n", err)
	} else {
		var years []string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".parquet") {
				years = append(years, e.Name())
			}
		}
		sort.Strings(years)
		total := 0
		for _, name := range years {
			records, err := parquet.ReadFile[store.BarRecord](filepath.Join(symDir, name))
			if err != nil {
				fmt.Printf("  %s: %v\n", name, err)
				continue
			}
			var minTS, maxTS int64
			for i, r := range records {
				if i == 0 || r.Timestamp < minTS {
					minTS = r.Timestamp
				}
				if r.Timestamp > maxTS {
					maxTS = r.Timestamp
				}
			}
			total += len(records)
			fmt.Printf("  %s: %d bars  [%s .. %s]\n", name, len(records),
				time.UnixMilli(minTS).UTC().Format("2006-01-02"),
				time.UnixMilli(maxTS).UTC().Format("2006-01-02"))
		}
		fmt.Printf("  total: %d bars across %d files\n", total, len(years))
	}

	// --- Store read path ---
	fmt.Println("\n--- ParquetStore.ReadBars ---")
	ps := store.NewParquetStore(dataDir)
	printStoreView(ctx, ps, sym, market)

	// --- SQLite research database ---
	fmt.Println("\n--- SQLiteStore.ReadBars ---")
	dbPath := sqlitePath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, market, "daily.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("  %s: %v\n", dbPath, err)
		return
	}
	ss := store.NewSQLiteStore(dataDir, sqlitePath)
	defer ss.Close()
	printStoreView(ctx, ss, sym, market)
}

// printStoreView reads the symbol through a BarStore and reports count,
// range, and the latest close, plus gaps longer than a long weekend.
func printStoreView(ctx context.Context, s store.BarStore, sym, market string) {
	bars, err := s.ReadBars(ctx, sym, market, time.Time{}, time.Now().UTC())
	if err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	if len(bars) == 0 {
		fmt.Println("  0 bars")
		return
	}
	first, last := bars[0], bars[len(bars)-1]
	fmt.Printf("  %d bars  [%s .. %s]  last close %.2f  volume %d\n",
		len(bars),
		first.Timestamp.Format("2006-01-02"),
		last.Timestamp.Format("2006-01-02"),
		last.Close, last.Volume)

	gaps := 0
	for i := 1; i < len(bars); i++ {
		if d := bars[i].Timestamp.Sub(bars[i-1].Timestamp); d > 4*24*time.Hour {
			gaps++
			if gaps <= 5 {
				fmt.Printf("  gap: %s -> %s (%.0f days)\n",
					bars[i-1].Timestamp.Format("2006-01-02"),
					bars[i].Timestamp.Format("2006-01-02"),
					d.Hours()/24)
			}
		}
	}
	if gaps > 5 {
		fmt.Printf("  ... %d more gaps\n", gaps-5)
	}
}
