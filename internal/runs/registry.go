// Package runs tracks asynchronous scan and backtest executions: an
// in-memory run table keyed by ULID, pub/sub progress events for SSE push,
// and JSON persistence of finished-run summaries.
package runs

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"backscan/internal/domain"
)

// Run statuses. A run stays "running" until its worker reports back, even
// after cancellation has been requested.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run kinds.
const (
	KindScan     = "scan"
	KindBacktest = "backtest"
)

// Run is one tracked execution. The report pointers are set once when the
// run finishes and are read-only from then on.
type Run struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	StrategyKey string                 `json:"strategy_key"`
	Status      string                 `json:"status"`
	Progress    domain.Progress        `json:"progress"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at,omitzero"`
	Scan        *domain.ScanReport     `json:"scan,omitempty"`
	Backtest    *domain.BacktestReport `json:"backtest,omitempty"`
}

// Finished reports whether the run has reached a final status.
func (r *Run) Finished() bool { return isFinal(r.Status) }

// Summary is the persisted slice of a finished run: identity and outcome
// without the report payload.
type Summary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	StrategyKey string    `json:"strategy_key"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Rows        int       `json:"rows,omitempty"`
	Trades      int       `json:"trades,omitempty"`
	Failures    int       `json:"failures,omitempty"`
}

// Event is the wire format for SSE messages.
type Event struct {
	Type     string           `json:"type"` // "status", "progress"
	RunID    string           `json:"run_id"`
	Status   string           `json:"status,omitempty"`   // status only
	Error    string           `json:"error,omitempty"`    // status only
	Progress *domain.Progress `json:"progress,omitempty"` // progress only
}

// Registry holds runs in memory with pub/sub per run and JSON persistence
// of finished-run summaries.
type Registry struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	cancels  map[string]context.CancelFunc
	history  []Summary
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[string]map[int]chan Event // run id -> sub id -> channel
}

// NewRegistry creates a Registry, loading persisted summaries from filePath.
// An empty filePath keeps the registry purely in memory.
func NewRegistry(filePath string, log *slog.Logger) *Registry {
	r := &Registry{
		runs:     make(map[string]*Run),
		cancels:  make(map[string]context.CancelFunc),
		filePath: filePath,
		log:      log,
		subs:     make(map[string]map[int]chan Event),
	}
	r.load()
	return r
}

// Begin registers a new running execution and returns a snapshot of it.
// The cancel func, if non-nil, is invoked by Cancel.
func (r *Registry) Begin(kind, strategyKey string, cancel context.CancelFunc) Run {
	run := &Run{
		ID:          newRunID(),
		Kind:        kind,
		StrategyKey: strategyKey,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	if cancel != nil {
		r.cancels[run.ID] = cancel
	}
	r.mu.Unlock()

	r.log.Info("run started", "id", run.ID, "kind", kind, "strategy", strategyKey)
	return *run
}

// Get returns a snapshot of a run. The report pointers inside are shared
// and must be treated as read-only.
func (r *Registry) Get(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns snapshots of all in-memory runs, newest first. ULIDs sort
// by creation time, so ordering falls out of the id.
func (r *Registry) List() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// History returns persisted summaries of finished runs, newest first. It
// includes runs finished in earlier processes.
func (r *Registry) History() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, len(r.history))
	copy(out, r.history)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Cancel requests cancellation of a running run. The run reaches its final
// status only when the worker observes the context and reports back.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	cancel, ok := r.cancels[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	r.log.Info("run cancellation requested", "id", id)
	return true
}

// ReportProgress records progress on a running run and broadcasts it to
// subscribers. Progress on finished or unknown runs is dropped.
func (r *Registry) ReportProgress(id string, p domain.Progress) {
	r.mu.Lock()
	run, ok := r.runs[id]
	if !ok || isFinal(run.Status) {
		r.mu.Unlock()
		return
	}
	run.Progress = p
	r.mu.Unlock()

	r.broadcast(id, Event{Type: "progress", RunID: id, Progress: &p})
}

// FinishScan completes a scan run. A report flagged cancelled finishes
// with the cancelled status rather than done.
func (r *Registry) FinishScan(id string, rep *domain.ScanReport) {
	status := StatusDone
	if rep.Cancelled {
		status = StatusCancelled
	}
	r.finish(id, func(run *Run) {
		run.Status = status
		run.Scan = rep
		run.Progress = domain.Progress{Completed: rep.Completed, Total: rep.Total}
	})
}

// FinishBacktest completes a backtest run.
func (r *Registry) FinishBacktest(id string, rep *domain.BacktestReport) {
	status := StatusDone
	if rep.Cancelled {
		status = StatusCancelled
	}
	r.finish(id, func(run *Run) {
		run.Status = status
		run.Backtest = rep
	})
}

// Fail completes a run with an error. Context cancellation maps to the
// cancelled status rather than failed.
func (r *Registry) Fail(id string, err error) {
	status := StatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = StatusCancelled
	}
	r.finish(id, func(run *Run) {
		run.Status = status
		run.Error = err.Error()
	})
}

// Subscribe registers for one run's events. The current status is pushed
// into the channel immediately, so late subscribers see finished runs
// without racing the worker; subscribing to a finished run yields a closed
// channel holding just that status event. bufSize controls the channel
// buffer; slow consumers will have events dropped. The bool reports
// whether the run exists.
func (r *Registry) Subscribe(runID string, bufSize int) (int, <-chan Event, bool) {
	// Holding the read lock across registration pairs with finish, which
	// closes subscriber channels under the write lock: a subscriber either
	// registers before the final event or sees the final status here.
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return 0, nil, false
	}
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)
	ch <- statusEvent(run)
	if isFinal(run.Status) {
		close(ch)
		return 0, ch, true
	}

	r.subsMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	if r.subs[runID] == nil {
		r.subs[runID] = make(map[int]chan Event)
	}
	r.subs[runID][id] = ch
	r.subsMu.Unlock()
	return id, ch, true
}

// Unsubscribe removes a subscriber and closes its channel. It is a no-op
// for subscriptions already closed by run completion.
func (r *Registry) Unsubscribe(runID string, subID int) {
	r.subsMu.Lock()
	if chs, ok := r.subs[runID]; ok {
		if ch, ok := chs[subID]; ok {
			delete(chs, subID)
			close(ch)
		}
		if len(chs) == 0 {
			delete(r.subs, runID)
		}
	}
	r.subsMu.Unlock()
}

// finish transitions a run to a final status, persists its summary, then
// delivers the final status event and closes all subscriber channels.
func (r *Registry) finish(id string, mutate func(*Run)) {
	r.mu.Lock()
	run, ok := r.runs[id]
	if !ok || isFinal(run.Status) {
		r.mu.Unlock()
		return
	}
	mutate(run)
	run.FinishedAt = time.Now().UTC()
	delete(r.cancels, id)
	r.history = append(r.history, summarize(run))
	r.flush()
	final := statusEvent(run)
	kind, status := run.Kind, run.Status

	r.subsMu.Lock()
	for _, ch := range r.subs[id] {
		select {
		case ch <- final:
		default:
			// Slow consumer. The final status stays visible via Get.
		}
		close(ch)
	}
	delete(r.subs, id)
	r.subsMu.Unlock()
	r.mu.Unlock()

	r.log.Info("run finished", "id", id, "kind", kind, "status", status)
}

// broadcast sends an event to one run's subscribers non-blocking (drop on full).
func (r *Registry) broadcast(runID string, e Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs[runID] {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop the event.
		}
	}
}

// load reads persisted summaries into memory.
func (r *Registry) load() {
	if r.filePath == "" {
		return
	}
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return // File doesn't exist yet, start empty.
	}
	var loaded []Summary
	if err := json.Unmarshal(data, &loaded); err != nil {
		r.log.Warn("loading run history file", "error", err)
		return
	}
	r.history = loaded
	r.log.Info("loaded run history", "runs", len(loaded))
}

// flush writes the summaries to disk. Must be called with mu held.
func (r *Registry) flush() {
	if r.filePath == "" {
		return
	}
	data, err := json.Marshal(r.history)
	if err != nil {
		r.log.Error("marshalling run history", "error", err)
		return
	}
	if err := os.WriteFile(r.filePath, data, 0644); err != nil {
		r.log.Error("writing run history file", "error", err)
	}
}

func statusEvent(run *Run) Event {
	return Event{Type: "status", RunID: run.ID, Status: run.Status, Error: run.Error}
}

func summarize(run *Run) Summary {
	sum := Summary{
		ID:          run.ID,
		Kind:        run.Kind,
		StrategyKey: run.StrategyKey,
		Status:      run.Status,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.Scan != nil {
		sum.Rows = len(run.Scan.Rows)
		sum.Failures = len(run.Scan.Failures)
	}
	if run.Backtest != nil {
		sum.Trades = run.Backtest.Kpis.TradeCount
		sum.Failures = len(run.Backtest.Failures)
	}
	return sum
}

func isFinal(status string) bool {
	return status == StatusDone || status == StatusFailed || status == StatusCancelled
}

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	// Seed a PRNG from crypto/rand so ULID entropy is unpredictable. The
	// monotonic reader keeps ids generated within the same millisecond
	// lexicographically increasing, which List and History rely on.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newRunID returns a time-sortable ULID string.
func newRunID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), idMono)
	if err != nil {
		panic(err)
	}
	return id.String()
}
