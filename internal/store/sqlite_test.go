package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"backscan/internal/domain"
)

func TestSQLiteStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	st := NewSQLiteStore(dir, "")
	defer st.Close()
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "600519.SH", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1700, High: 1720, Low: 1690, Close: 1710, Volume: 25000},
		{Symbol: "600519.SH", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 1710, High: 1735, Low: 1705, Close: 1730, Volume: 28000},
		{Symbol: "000001.SZ", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 9.5, High: 9.7, Low: 9.4, Close: 9.6, Volume: 120000},
	}
	if err := st.WriteBars(ctx, "cn", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := st.ReadBars(ctx, "600519.SH", "cn", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 1710 || got[1].Close != 1730 {
		t.Errorf("closes = %v, %v, want 1710, 1730", got[0].Close, got[1].Close)
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Errorf("bars not ordered: %v then %v", got[0].Timestamp, got[1].Timestamp)
	}

	// Rewriting a date upserts instead of duplicating.
	update := []domain.Bar{
		{Symbol: "600519.SH", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 1710, High: 1740, Low: 1705, Close: 1738, Volume: 30000},
	}
	if err := st.WriteBars(ctx, "cn", update); err != nil {
		t.Fatalf("WriteBars (upsert): %v", err)
	}
	got, err = st.ReadBars(ctx, "600519.SH", "cn", start, end)
	if err != nil {
		t.Fatalf("ReadBars after upsert: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after upsert, want 2", len(got))
	}
	if got[1].Close != 1738 {
		t.Errorf("upserted Close = %v, want 1738", got[1].Close)
	}

	// Range filter trims to a single day.
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	got, err = st.ReadBars(ctx, "600519.SH", "cn", day, day)
	if err != nil {
		t.Fatalf("ReadBars (single day): %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("single-day ReadBars returned %d bars, want 1", len(got))
	}
}

func TestSQLiteStoreNoData(t *testing.T) {
	st := NewSQLiteStore(t.TempDir(), "")
	defer st.Close()
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	if _, err := st.ReadBars(ctx, "600000.SH", "cn", start, end); !errors.Is(err, ErrNoData) {
		t.Fatalf("ReadBars on missing table: err = %v, want ErrNoData", err)
	}
	if _, err := st.LastClose(ctx, "600000.SH", "cn", end); !errors.Is(err, ErrNoData) {
		t.Fatalf("LastClose on missing table: err = %v, want ErrNoData", err)
	}
}

func TestSQLiteStoreListSymbols(t *testing.T) {
	st := NewSQLiteStore(t.TempDir(), "")
	defer st.Close()
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "600519.SH", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 1710},
		{Symbol: "000001.SZ", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 9.6},
	}
	if err := st.WriteBars(ctx, "cn", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := st.ListSymbols(ctx, "cn")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "000001.SZ" || symbols[1] != "600519.SH" {
		t.Errorf("ListSymbols = %v, want [000001.SZ 600519.SH]", symbols)
	}
}

func TestSQLiteStoreLastClose(t *testing.T) {
	st := NewSQLiteStore(t.TempDir(), "")
	defer st.Close()
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "000002.SZ", Timestamp: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), Close: 10.0},
		{Symbol: "000002.SZ", Timestamp: time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC), Close: 10.4},
	}
	if err := st.WriteBars(ctx, "cn", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// asOf between the two rows picks the earlier close.
	last, err := st.LastClose(ctx, "000002.SZ", "cn", time.Date(2024, 2, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("LastClose: %v", err)
	}
	if last != 10.0 {
		t.Errorf("LastClose = %v, want 10.0", last)
	}

	// asOf before all rows reports ErrNoData.
	if _, err := st.LastClose(ctx, "000002.SZ", "cn", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, ErrNoData) {
		t.Fatalf("LastClose before data: err = %v, want ErrNoData", err)
	}
}

func TestSQLiteStoreFixedPath(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "research.db")
	st := NewSQLiteStore("", dbPath)
	defer st.Close()
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "600519.SH", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 1710},
	}
	if err := st.WriteBars(ctx, "cn", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// The same file serves every market name.
	got, err := st.ReadBars(ctx, "600519.SH", "us",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars via other market: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadBars returned %d bars, want 1", len(got))
	}
}

func TestParseSQLiteDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-02 00:00:00", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"2024/01/02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"not-a-date", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := parseSQLiteDate(tc.in)
		if tc.ok && err != nil {
			t.Errorf("parseSQLiteDate(%q): %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("parseSQLiteDate(%q): expected error", tc.in)
			}
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parseSQLiteDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
