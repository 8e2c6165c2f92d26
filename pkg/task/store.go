// Package task holds the in-memory status store for coordinator jobs: one
// record per job id with lifecycle state, clamped progress, named counters,
// a bounded log ring buffer and the final result payload.
//
// The store is the single source of truth that status queries and the
// broadcast hub replay from. All methods are safe for concurrent use.
package task

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/quantor/quantor/pkg/lineproto"
)

// DefaultLogCapacity bounds the per-job log ring buffer.
const DefaultLogCapacity = 5000

var (
	// ErrNotFound means no record exists for the job id.
	ErrNotFound = errors.New("job not found")

	// ErrActive means a non-terminal record already exists for the job id.
	ErrActive = errors.New("job still active")

	// ErrTerminal means the job already reached a terminal state.
	ErrTerminal = errors.New("job already terminal")
)

// Snapshot is an immutable point-in-time copy of one job record. It is safe
// to retain and read while writers continue to mutate the store.
type Snapshot struct {
	ID       string           `json:"id"`
	Kind     string           `json:"kind"`
	Owner    string           `json:"owner"`
	State    State            `json:"state"`
	Progress float64          `json:"progress"`
	Metrics  map[string]int64 `json:"metrics,omitempty"`
	Result   map[string]any   `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	Logs     []LogLine        `json:"logs,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

type record struct {
	id       string
	kind     string
	owner    string
	state    State
	progress float64
	metrics  map[string]int64
	result   map[string]any
	errMsg   string
	logs     *logRing

	startedAt time.Time
	endedAt   time.Time
}

// Store is a concurrent registry of job records keyed by job id.
type Store struct {
	mu           sync.RWMutex
	jobs         map[string]*record
	latestByKind map[string]string
	logCapacity  int
	now          func() time.Time
}

// NewStore returns an empty store. logCapacity bounds each job's log ring
// buffer; zero or negative selects DefaultLogCapacity.
func NewStore(logCapacity int) *Store {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Store{
		jobs:         make(map[string]*record),
		latestByKind: make(map[string]string),
		logCapacity:  logCapacity,
		now:          time.Now,
	}
}

// Create registers a new job record in Starting. An existing terminal
// record under the same id is replaced; an active one is an error.
func (s *Store) Create(id, kind, owner string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[id]; ok && !existing.state.Terminal() {
		return Snapshot{}, fmt.Errorf("create %s: %w", id, ErrActive)
	}

	rec := &record{
		id:        id,
		kind:      kind,
		owner:     owner,
		state:     StateStarting,
		metrics:   make(map[string]int64),
		logs:      newLogRing(s.logCapacity),
		startedAt: s.now(),
	}
	s.jobs[id] = rec
	s.latestByKind[kind] = id
	return snapshotOf(rec), nil
}

// Apply folds one parsed worker event into the job record. Events against
// unknown or terminal jobs are dropped. The returned bool reports whether
// the record changed.
func (s *Store) Apply(id string, ev lineproto.Event) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || rec.state.Terminal() {
		return Snapshot{}, false
	}

	switch ev.Type {
	case lineproto.EventProgress:
		// Monotonicity guard: the worker is never trusted to move
		// progress backwards.
		if ev.Percent < rec.progress {
			return snapshotOf(rec), false
		}
		rec.progress = ev.Percent
	case lineproto.EventCounter:
		rec.metrics[ev.Counter] = ev.Value
	case lineproto.EventLog:
		rec.logs.append(ev.Text, s.now())
	case lineproto.EventFinalResult:
		rec.result = ev.Document
	default:
		return snapshotOf(rec), false
	}
	return snapshotOf(rec), true
}

// Transition moves the job to newState, enforcing the state machine. For
// StateFailed and StateCancelled, detail becomes the job's error reason.
// Transitions out of a terminal state return ErrTerminal.
func (s *Store) Transition(id string, newState State, detail string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if rec.state.Terminal() {
		return snapshotOf(rec), fmt.Errorf("transition %s to %s: %w", id, newState, ErrTerminal)
	}
	if !canTransition(rec.state, newState) {
		return snapshotOf(rec), fmt.Errorf("transition %s: %s -> %s not allowed", id, rec.state, newState)
	}

	rec.state = newState
	if newState.Terminal() {
		rec.endedAt = s.now()
	}
	switch newState {
	case StateFailed:
		rec.errMsg = detail
		rec.result = nil
	case StateCompleted:
		if rec.progress < 100 {
			rec.progress = 100
		}
	case StateCancelled:
		rec.errMsg = detail
		rec.result = nil
	}
	return snapshotOf(rec), nil
}

// Reset deletes the job record, returning the id to the implicit Idle
// state. Resetting an unknown id is a no-op.
func (s *Store) Reset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return false
	}
	delete(s.jobs, id)
	if s.latestByKind[rec.kind] == id {
		delete(s.latestByKind, rec.kind)
	}
	return true
}

// Snapshot returns an immutable copy of the job record.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(rec), true
}

// LatestByKind returns the most recently created job for a kind. Used for
// replay-on-connect on a kind's live channel.
func (s *Store) LatestByKind(kind string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latestByKind[kind]
	if !ok {
		return Snapshot{}, false
	}
	rec, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(rec), true
}

// List returns snapshots of every known job, in no particular order.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, snapshotOf(rec))
	}
	return out
}

// snapshotOf deep-copies the mutable record fields. Callers must hold the
// store lock.
func snapshotOf(rec *record) Snapshot {
	snap := Snapshot{
		ID:        rec.id,
		Kind:      rec.kind,
		Owner:     rec.owner,
		State:     rec.state,
		Progress:  rec.progress,
		Error:     rec.errMsg,
		Logs:      rec.logs.lines(),
		StartedAt: rec.startedAt,
		EndedAt:   rec.endedAt,
	}
	if len(rec.metrics) > 0 {
		snap.Metrics = maps.Clone(rec.metrics)
	}
	// The final result is surfaced only once the job completed.
	if rec.state == StateCompleted && rec.result != nil {
		snap.Result = maps.Clone(rec.result)
	}
	return snap
}
