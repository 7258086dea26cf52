package us

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"backscan/internal/domain"
	"backscan/internal/util"
)

// universeIndex tracks which symbols traded on each session day and writes
// them as <dir>/<YYYY-MM-DD>.txt, one symbol per line. Scan requests can
// seed their universe from these files. Day files stay sorted and free of
// duplicates: every flush merges the pending set into whatever is already
// on disk.
type universeIndex struct {
	mu      sync.Mutex
	dir     string
	pending map[string]map[string]struct{} // day -> symbols seen since last flush
}

func newUniverseIndex(dir string) *universeIndex {
	return &universeIndex{
		dir:     dir,
		pending: make(map[string]map[string]struct{}),
	}
}

// Observe records the session day each bar's symbol traded on.
func (u *universeIndex) Observe(bars []domain.Bar) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, b := range bars {
		day := util.DayString(b.Timestamp)
		set := u.pending[day]
		if set == nil {
			set = make(map[string]struct{})
			u.pending[day] = set
		}
		set[b.Symbol] = struct{}{}
	}
}

// Flush merges the pending symbols into their day files.
func (u *universeIndex) Flush() error {
	u.mu.Lock()
	pending := u.pending
	u.pending = make(map[string]map[string]struct{})
	u.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return fmt.Errorf("creating universe dir: %w", err)
	}
	for day, set := range pending {
		if err := u.mergeDay(day, set); err != nil {
			return fmt.Errorf("universe file for %s: %w", day, err)
		}
	}
	return nil
}

// mergeDay unions the new symbols with the existing day file and rewrites
// it sorted.
func (u *universeIndex) mergeDay(day string, set map[string]struct{}) error {
	path := filepath.Join(u.dir, day+".txt")

	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				set[sym] = struct{}{}
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	return os.WriteFile(path, []byte(strings.Join(symbols, "\n")+"\n"), 0o644)
}
