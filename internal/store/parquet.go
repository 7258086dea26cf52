package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backscan/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing files are merged, not overwritten; bars with the same symbol and
// timestamp are replaced by the incoming record.
func (s *ParquetStore) WriteBars(_ context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Group by symbol and year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     b.Symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.symbolYears(symbol, market)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if year < start.Year() || year > end.Year() {
			continue
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !ts.Before(start) && !ts.After(end) {
				bars = append(bars, barFromRecord(r, ts))
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LastClose returns the most recent close at or before asOf, scanning year
// files newest-first.
func (s *ParquetStore) LastClose(_ context.Context, symbol, market string, asOf time.Time) (float64, error) {
	years, err := s.symbolYears(symbol, market)
	if err != nil {
		return 0, err
	}

	for i := len(years) - 1; i >= 0; i-- {
		if years[i] > asOf.Year() {
			continue
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, years[i]))
		if err != nil {
			continue
		}
		// Records are timestamp-sorted on write; walk backwards.
		for j := len(records) - 1; j >= 0; j-- {
			ts := time.UnixMilli(records[j].Timestamp).UTC()
			if !ts.After(asOf) {
				return records[j].Close, nil
			}
		}
	}
	return 0, ErrNoData
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.symbolDir(symbol, market), fmt.Sprintf("%d.parquet", year))
}

func (s *ParquetStore) symbolDir(symbol, market string) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol))
}

// symbolYears returns the years with stored data for a symbol, ascending.
func (s *ParquetStore) symbolYears(symbol, market string) ([]int, error) {
	entries, err := os.ReadDir(s.symbolDir(symbol, market))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoData
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".parquet")
		if name == e.Name() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return nil, ErrNoData
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func barFromRecord(r BarRecord, ts time.Time) domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  ts,
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// incoming records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
