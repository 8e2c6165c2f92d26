// Package coordinator owns the single system-wide admission slot for
// analysis jobs and orchestrates the run lifecycle around it: admission,
// spawn hand-off to the supervisor, ownership-gated cancellation, and
// recovery of orphaned slot holds.
//
// All slot operations are linearized behind one mutex; there is exactly one
// slot regardless of job kind, no queueing and no automatic retry. A
// rejected caller resubmits itself.
package coordinator

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/task"
)

// runner is the subset of the process supervisor the coordinator drives.
type runner interface {
	Run(ctx context.Context, jobID string, spec jobkind.Spec) task.Snapshot
	Cancel(jobID string) bool
	ForceKill(jobID, reason string) bool
	Alive(jobID string) bool
}

// StatusSink receives snapshots for transitions the coordinator itself
// performs (reconcile, pre-spawn cancel, admin kill of a zombie record).
type StatusSink interface {
	OnStatus(task.Snapshot)
}

// HoldInfo describes the current slot holder.
type HoldInfo struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
}

// Accepted is the successful outcome of TryStart.
type Accepted struct {
	JobID string `json:"job_id"`
}

// Coordinator gates job admission through one global slot.
type Coordinator struct {
	kinds    *jobkind.Registry
	store    *task.Store
	runner   runner
	sink     StatusSink
	slotLock *SlotLock

	mu   sync.Mutex
	slot *HoldInfo

	runs sync.WaitGroup
}

// NewCoordinator wires the coordinator over its collaborators. The slot
// starts empty.
func NewCoordinator(kinds *jobkind.Registry, store *task.Store, r runner) *Coordinator {
	return &Coordinator{
		kinds:  kinds,
		store:  store,
		runner: r,
	}
}

// WithSink attaches the sink notified about coordinator-made transitions.
func (c *Coordinator) WithSink(sink StatusSink) *Coordinator {
	c.sink = sink
	return c
}

// WithSlotLock extends admission over a cross-process file lock: the slot
// is held for the duration of the run by this process, so other quantor
// processes on the host are rejected too.
func (c *Coordinator) WithSlotLock(lock *SlotLock) *Coordinator {
	c.slotLock = lock
	return c
}

// TryStart admits a new job if the slot is empty: it atomically occupies
// the slot, creates the job record in Starting and hands the run to the
// supervisor asynchronously. When the slot is held it returns a
// *LockConflictError naming the holder, without blocking or queueing.
//
// jobID may be empty, in which case one is generated. params are merged
// over the kind's configured flags. ctx bounds the whole run: cancelling
// it kills the worker.
func (c *Coordinator) TryStart(ctx context.Context, kind, owner, jobID string, params map[string]string) (Accepted, error) {
	spec, ok := c.kinds.Get(kind)
	if !ok {
		return Accepted{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if len(params) > 0 {
		merged := make(map[string]string, len(spec.Flags)+len(params))
		maps.Copy(merged, spec.Flags)
		maps.Copy(merged, params)
		spec.Flags = merged
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	c.mu.Lock()
	if c.slot != nil {
		conflict := &LockConflictError{
			JobID:     c.slot.JobID,
			Kind:      c.slot.Kind,
			Owner:     c.slot.Owner,
			StartedAt: c.slot.StartedAt,
		}
		c.mu.Unlock()
		return Accepted{}, conflict
	}

	if c.slotLock != nil {
		held, err := c.slotLock.TryAcquire()
		if err != nil {
			c.mu.Unlock()
			return Accepted{}, fmt.Errorf("slot lock %s: %w", c.slotLock.Path(), err)
		}
		if !held {
			// Another process on this host holds the slot; its identity
			// is not knowable through the lock file.
			c.mu.Unlock()
			return Accepted{}, &LockConflictError{Owner: "another process"}
		}
	}

	snap, err := c.store.Create(jobID, kind, owner)
	if err != nil {
		if c.slotLock != nil {
			_ = c.slotLock.Release()
		}
		c.mu.Unlock()
		return Accepted{}, err
	}
	c.slot = &HoldInfo{JobID: jobID, Kind: kind, Owner: owner, StartedAt: snap.StartedAt}
	c.mu.Unlock()

	log.Info().
		Str("component", "coordinator").
		Str("job_id", jobID).
		Str("kind", kind).
		Str("owner", owner).
		Msg("Job admitted")

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		final := c.runner.Run(ctx, jobID, spec)
		c.release(jobID)
		log.Info().
			Str("component", "coordinator").
			Str("job_id", jobID).
			Str("state", string(final.State)).
			Msg("Job finished, slot released")
	}()

	return Accepted{JobID: jobID}, nil
}

// Cancel kills the running job, but only when jobID names the currently
// held job and requester is its owner. Anything else is a no-op returning
// false. Safe to call repeatedly and after the job finished.
func (c *Coordinator) Cancel(jobID, requester string) bool {
	c.mu.Lock()
	held := c.slot != nil && c.slot.JobID == jobID && c.slot.Owner == requester
	c.mu.Unlock()
	if !held {
		return false
	}

	if c.runner.Cancel(jobID) {
		// The run goroutine observes the kill, records Cancelled and
		// releases the slot.
		return true
	}

	// No live process: the job is still between admission and spawn, or
	// the run just finished. Only the former needs cleanup here.
	snap, err := c.store.Transition(jobID, task.StateCancelled, "")
	if err != nil {
		return false
	}
	c.release(jobID)
	c.notify(snap)
	return true
}

// CurrentInfo returns the current slot holder, if any.
func (c *Coordinator) CurrentInfo() (HoldInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return HoldInfo{}, false
	}
	return *c.slot, true
}

// Reconcile recovers an orphaned slot: held, past Starting, but with no
// live worker process behind it. The job is failed with an explicit reason
// and the slot cleared. Idempotent and safe to call at any time, including
// concurrently with a start.
func (c *Coordinator) Reconcile() bool {
	c.mu.Lock()
	if c.slot == nil {
		c.mu.Unlock()
		return false
	}
	jobID := c.slot.JobID
	c.mu.Unlock()

	snap, ok := c.store.Snapshot(jobID)
	if ok && snap.State == task.StateStarting {
		// Spawn in progress; not an orphan.
		return false
	}
	if ok && snap.State == task.StateRunning && c.runner.Alive(jobID) {
		return false
	}

	log.Warn().
		Str("component", "coordinator").
		Str("job_id", jobID).
		Msg("Orphaned lock detected, recovering")

	if ok && !snap.State.Terminal() {
		if failed, err := c.store.Transition(jobID, task.StateFailed, "orphaned lock"); err == nil {
			c.notify(failed)
		}
	}
	c.release(jobID)
	return true
}

// Wait blocks until all in-flight runs have finished. Used on shutdown
// after cancelling the runs' context.
func (c *Coordinator) Wait() {
	c.runs.Wait()
}

// release clears the slot, always keyed by the actual job id so a stale
// goroutine can never free a slot it no longer owns.
func (c *Coordinator) release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot != nil && c.slot.JobID == jobID {
		c.slot = nil
		if c.slotLock != nil {
			_ = c.slotLock.Release()
		}
	}
}

func (c *Coordinator) notify(snap task.Snapshot) {
	if c.sink == nil || snap.ID == "" {
		return
	}
	c.sink.OnStatus(snap)
}
