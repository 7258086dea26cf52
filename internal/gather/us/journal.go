package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	noDataFile     = "no-data.list"
	checkpointFile = "checkpoint"
)

// backfillJournal records which symbols the data feed returned zero bars
// for and which session the backfill last ran to completion, so an
// interrupted run resumes where it stopped instead of re-probing the whole
// symbol grid.
type backfillJournal struct {
	mu     sync.Mutex
	dir    string
	noData map[string]struct{}
}

// openBackfillJournal loads the journal rooted at dir, creating the
// directory when needed. A missing no-data list reads as empty.
func openBackfillJournal(dir string) (*backfillJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	j := &backfillJournal{dir: dir, noData: make(map[string]struct{})}

	f, err := os.Open(j.path(noDataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("opening no-data list: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sym := strings.TrimSpace(sc.Text()); sym != "" {
			j.noData[sym] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading no-data list: %w", err)
	}
	return j, nil
}

func (j *backfillJournal) path(name string) string {
	return filepath.Join(j.dir, name)
}

// HasNoData reports whether a symbol previously came back with zero bars.
func (j *backfillJournal) HasNoData(symbol string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.noData[symbol]
	return ok
}

// RecordNoData appends newly-observed empty symbols to the no-data list.
// Symbols already on the list are not written twice.
func (j *backfillJournal) RecordNoData(symbols []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var fresh []string
	for _, sym := range symbols {
		if _, known := j.noData[sym]; known {
			continue
		}
		j.noData[sym] = struct{}{}
		fresh = append(fresh, sym)
	}
	if len(fresh) == 0 {
		return nil
	}

	f, err := os.OpenFile(j.path(noDataFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("appending no-data list: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(fresh, "\n") + "\n"); err != nil {
		return fmt.Errorf("writing no-data list: %w", err)
	}
	return nil
}

// Checkpoint returns the session date of the last completed run, or the
// empty string when no run has finished yet.
func (j *backfillJournal) Checkpoint() string {
	data, err := os.ReadFile(j.path(checkpointFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetCheckpoint records that the backfill has covered every session up to
// and including the given date.
func (j *backfillJournal) SetCheckpoint(date string) error {
	if err := os.WriteFile(j.path(checkpointFile), []byte(date+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Drop discards the no-data list. A symbol that was empty during an earlier
// session may have started trading since, so a new session probes it again.
func (j *backfillJournal) Drop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.noData = make(map[string]struct{})
	if err := os.Remove(j.path(noDataFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dropping no-data list: %w", err)
	}
	return nil
}
