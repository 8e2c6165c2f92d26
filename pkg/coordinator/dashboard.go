package coordinator

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/task"
)

// ForceKillReason is recorded on jobs terminated by the admin override.
const ForceKillReason = "admin force-kill"

// JobSummary is one row of the cross-kind dashboard view.
type JobSummary struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Owner     string     `json:"owner"`
	State     task.State `json:"state"`
	Progress  float64    `json:"progress"`
	StartedAt time.Time  `json:"started_at"`

	// Alive is an OS-level probe of the worker process, independent of
	// the recorded state. A Running job with Alive=false is a zombie
	// slot holder.
	Alive bool `json:"alive"`

	// HoldsSlot marks the job currently occupying the admission slot.
	HoldsSlot bool `json:"holds_slot"`
}

// ListActive returns every non-terminal job across all kinds, each probed
// for actual process liveness. Sorted by start time, oldest first.
func (c *Coordinator) ListActive() []JobSummary {
	c.mu.Lock()
	var heldID string
	if c.slot != nil {
		heldID = c.slot.JobID
	}
	c.mu.Unlock()

	var out []JobSummary
	for _, snap := range c.store.List() {
		if snap.State.Terminal() {
			continue
		}
		out = append(out, JobSummary{
			ID:        snap.ID,
			Kind:      snap.Kind,
			Owner:     snap.Owner,
			State:     snap.State,
			Progress:  snap.Progress,
			StartedAt: snap.StartedAt,
			Alive:     c.runner.Alive(snap.ID),
			HoldsSlot: snap.ID == heldID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ForceKill is the administrative override: it terminates the job's worker
// regardless of who asks, fails the job and releases the slot. It bypasses
// Cancel's ownership check. Returns false for unknown or already terminal
// jobs.
func (c *Coordinator) ForceKill(jobID string) bool {
	snap, ok := c.store.Snapshot(jobID)
	if !ok || snap.State.Terminal() {
		return false
	}

	log.Warn().
		Str("component", "coordinator").
		Str("job_id", jobID).
		Msg("Administrative force-kill")

	if c.runner.ForceKill(jobID, ForceKillReason) {
		// The run goroutine records the failure and releases the slot.
		return true
	}

	// No live process behind the record: fail it directly.
	failed, err := c.store.Transition(jobID, task.StateFailed, ForceKillReason)
	if err != nil {
		return false
	}
	c.release(jobID)
	c.notify(failed)
	return true
}
