// Package strategy defines the contract between the scan engine and the
// trading strategies it runs, plus the registry that dispatches and guards
// strategy execution.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"backscan/internal/domain"
)

// ErrUnknownStrategy is returned by Registry.Run for a key that was never
// registered.
var ErrUnknownStrategy = errors.New("strategy: unknown key")

// RunContext carries everything a strategy needs for one execution over a
// single symbol. Bars are sorted ascending by timestamp and cover at least
// [Start, End]; extra history before Start is allowed so indicators can warm
// up.
type RunContext struct {
	Symbol string
	Bars   []domain.Bar
	Params map[string]any
	Start  time.Time
	End    time.Time
	Mode   string
}

// IntParam reads an integer parameter, tolerating the numeric types JSON and
// YAML decoding produce. Missing or malformed values yield the fallback.
func (rc RunContext) IntParam(key string, fallback int) int {
	v, ok := rc.Params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return fallback
}

// FloatParam reads a float parameter with the same tolerance as IntParam.
func (rc RunContext) FloatParam(key string, fallback float64) float64 {
	v, ok := rc.Params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return fallback
}

// StringParam reads a string parameter, falling back when missing or not a
// string.
func (rc RunContext) StringParam(key, fallback string) string {
	if s, ok := rc.Params[key].(string); ok {
		return s
	}
	return fallback
}

// Strategy produces trading output for one symbol over one price series.
// Implementations fill whichever RunResult slices their algorithm supports;
// the engine normalizes the richest available shape.
type Strategy interface {
	Key() string
	Run(ctx context.Context, rc RunContext) (*domain.RunResult, error)
}

// ParamSpec describes one tunable strategy parameter for catalog consumers.
type ParamSpec struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
}

// Definition is the catalog entry for a strategy: identity, parameter
// metadata, and which execution modes it supports.
type Definition struct {
	Key         string      `json:"key"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
	Preview     bool        `json:"preview"`
	Scan        bool        `json:"scan"`
	Backtest    bool        `json:"backtest"`
}

// Describer is implemented by strategies that publish catalog metadata.
// Strategies without it still work; the registry synthesizes a minimal
// definition from the key.
type Describer interface {
	Describe() Definition
}

// Registry maps strategy keys to implementations. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry. Registering a key twice is an
// error so a misconfigured wiring fails loudly at startup.
func (r *Registry) Register(s Strategy) error {
	key := s.Key()
	if key == "" {
		return errors.New("strategy: empty key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[key]; exists {
		return fmt.Errorf("strategy: duplicate key %q", key)
	}
	r.strategies[key] = s
	return nil
}

// Get returns the strategy registered under key.
func (r *Registry) Get(key string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[key]
	return s, ok
}

// List returns all registered keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.strategies))
	for key := range r.strategies {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Definitions returns the catalog entries for every registered strategy,
// sorted by key.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.strategies))
	for key, s := range r.strategies {
		if d, ok := s.(Describer); ok {
			defs = append(defs, d.Describe())
			continue
		}
		defs = append(defs, Definition{
			Key:      key,
			Title:    key,
			Preview:  true,
			Scan:     true,
			Backtest: true,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}

// Run executes the strategy registered under key. Strategy errors and panics
// are wrapped into a StrategyExecutionError so one misbehaving strategy
// cannot abort a universe scan.
func (r *Registry) Run(ctx context.Context, key string, rc RunContext) (res *domain.RunResult, err error) {
	s, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, key)
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = &domain.StrategyExecutionError{
				Strategy: key,
				Symbol:   rc.Symbol,
				Err:      fmt.Errorf("panic: %v", rec),
			}
		}
	}()
	out, runErr := s.Run(ctx, rc)
	if runErr != nil {
		return nil, &domain.StrategyExecutionError{Strategy: key, Symbol: rc.Symbol, Err: runErr}
	}
	if out == nil {
		out = &domain.RunResult{}
	}
	if out.StrategyName == "" {
		out.StrategyName = key
	}
	return out, nil
}
