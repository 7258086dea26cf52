package us

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
)

// symbolGridMax is the longest ticker length the brute-force grid probes.
// Longer tickers have to come from the CSV reference list.
const symbolGridMax = 4

// SymbolGrid enumerates every A-Z ticker of length 1 through symbolGridMax:
// 26 + 676 + 17576 + 456976 = 475254 candidates.
func SymbolGrid() []string {
	size := 0
	for n, perLen := 1, 26; n <= symbolGridMax; n, perLen = n+1, perLen*26 {
		size += perLen
	}
	out := make([]string, 0, size)

	var grow func(prefix []byte)
	grow = func(prefix []byte) {
		if len(prefix) == symbolGridMax {
			return
		}
		for ch := byte('A'); ch <= 'Z'; ch++ {
			next := append(prefix, ch)
			out = append(out, string(next))
			grow(next)
		}
	}
	grow(make([]byte, 0, symbolGridMax))
	return out
}

// ReadSymbolColumn streams the "symbol" column of a CSV reference file,
// uppercased. The first row is treated as a header; when no column is
// named "symbol" the first column is used.
func ReadSymbolColumn(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header %s: %w", path, err)
	}
	col := 0
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "symbol") {
			col = i
			break
		}
	}

	var symbols []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		if col >= len(row) {
			continue
		}
		if sym := strings.ToUpper(strings.TrimSpace(row[col])); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}

// ProbeSymbols is the shuffled union of the brute-force grid and the CSV
// reference list. An empty csvPath skips the CSV contribution. Shuffling
// spreads the hit density evenly across fetch batches, which keeps the
// per-batch progress log representative of the whole run.
func ProbeSymbols(csvPath string) ([]string, error) {
	symbols := SymbolGrid()
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		seen[s] = struct{}{}
	}

	if csvPath != "" {
		extra, err := ReadSymbolColumn(csvPath)
		if err != nil {
			return nil, err
		}
		for _, s := range extra {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			symbols = append(symbols, s)
		}
	}

	rand.Shuffle(len(symbols), func(i, j int) {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	})
	return symbols, nil
}
