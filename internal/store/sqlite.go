package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"backscan/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*SQLiteStore)(nil)

// SQLiteStore implements BarStore backed by SQLite research databases,
// one database per market with one table per symbol:
//
//	CREATE TABLE "<SYMBOL>" (date TEXT PRIMARY KEY, open REAL, high REAL,
//	    low REAL, close REAL, volume INTEGER, name TEXT, symbol TEXT)
//
// Databases live at <DataDir>/<market>/daily.db unless FixedPath pins every
// market to a single file.
type SQLiteStore struct {
	DataDir   string
	FixedPath string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLiteStore returns a store rooted at dataDir. fixedPath, when
// non-empty, points every market at that one database file.
func NewSQLiteStore(dataDir, fixedPath string) *SQLiteStore {
	return &SQLiteStore{
		DataDir:   dataDir,
		FixedPath: fixedPath,
		dbs:       make(map[string]*sql.DB),
	}
}

// Close closes all open database connections.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, path)
	}
	return firstErr
}

// db returns the open handle for a market, opening it on first use.
func (s *SQLiteStore) db(market string) (*sql.DB, error) {
	path := s.FixedPath
	if path == "" {
		path = filepath.Join(s.DataDir, market, "daily.db")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[path]; ok {
		return db, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s.dbs[path] = db
	return db, nil
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars upserts bars into per-symbol tables, creating tables as needed.
func (s *SQLiteStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	db, err := s.db(market)
	if err != nil {
		return err
	}

	bySymbol := make(map[string][]domain.Bar)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}

	for symbol, group := range bySymbol {
		ident, err := quoteIdent(symbol)
		if err != nil {
			return err
		}
		create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			date TEXT PRIMARY KEY,
			open REAL, high REAL, low REAL, close REAL,
			volume INTEGER, name TEXT, symbol TEXT)`, ident)
		if _, err := db.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("creating table for %s: %w", symbol, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT OR REPLACE INTO %s (date, open, high, low, close, volume, name, symbol)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, ident))
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, b := range group {
			date := b.Timestamp.UTC().Format("2006-01-02")
			if _, err := stmt.ExecContext(ctx, date, b.Open, b.High, b.Low, b.Close, b.Volume, "", b.Symbol); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("writing bars for %s: %w", symbol, err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ReadBars reads every row of the symbol table in date order and filters to
// [start, end] after parsing. Research databases mix date formats, so the
// range filter happens on parsed timestamps, not on the TEXT column.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error) {
	db, err := s.db(market)
	if err != nil {
		return nil, err
	}
	ident, err := s.symbolTable(ctx, db, symbol)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT date, open, high, low, close, volume FROM %s ORDER BY date`, ident))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			date       string
			o, h, l, c sql.NullFloat64
			vol        sql.NullInt64
		)
		if err := rows.Scan(&date, &o, &h, &l, &c, &vol); err != nil {
			return nil, err
		}
		ts, err := parseSQLiteDate(date)
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      o.Float64,
			High:      h.Float64,
			Low:       l.Float64,
			Close:     c.Float64,
			Volume:    vol.Int64,
		})
	}
	return bars, rows.Err()
}

// ListSymbols returns the symbol table names in the market database.
func (s *SQLiteStore) ListSymbols(ctx context.Context, market string) ([]string, error) {
	db, err := s.db(market)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		symbols = append(symbols, name)
	}
	return symbols, rows.Err()
}

// LastClose returns the most recent close at or before asOf.
func (s *SQLiteStore) LastClose(ctx context.Context, symbol, market string, asOf time.Time) (float64, error) {
	db, err := s.db(market)
	if err != nil {
		return 0, err
	}
	ident, err := s.symbolTable(ctx, db, symbol)
	if err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT date, close FROM %s ORDER BY date DESC`, ident))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			date string
			c    sql.NullFloat64
		)
		if err := rows.Scan(&date, &c); err != nil {
			return 0, err
		}
		ts, err := parseSQLiteDate(date)
		if err != nil {
			continue
		}
		if !ts.After(asOf) {
			return c.Float64, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, ErrNoData
}

// symbolTable verifies the symbol table exists and returns its quoted name.
// A missing table reports ErrNoData.
func (s *SQLiteStore) symbolTable(ctx context.Context, db *sql.DB, symbol string) (string, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, symbol).Scan(&n)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrNoData
	}
	return quoteIdent(symbol)
}

// quoteIdent quotes a symbol for use as a table name. Symbols containing a
// double quote are rejected rather than escaped.
func quoteIdent(symbol string) (string, error) {
	if symbol == "" || strings.Contains(symbol, `"`) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return `"` + symbol + `"`, nil
}

// parseSQLiteDate parses the date column, tolerating a trailing time part.
func parseSQLiteDate(date string) (time.Time, error) {
	if len(date) > 10 {
		date = date[:10]
	}
	return time.Parse("2006-01-02", strings.ReplaceAll(date, "/", "-"))
}
