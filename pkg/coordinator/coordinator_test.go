package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/task"
)

type killOrder struct {
	reason  string
	outcome task.State
}

type fakeProc struct {
	kill chan killOrder
	done chan task.State
}

// fakeRunner stands in for the process supervisor: it moves jobs to
// Running, tracks "live processes" and terminates on command.
type fakeRunner struct {
	store *task.Store

	mu    sync.Mutex
	procs map[string]*fakeProc

	// vanish simulates a worker whose process disappeared: Run moves the
	// job to Running but never registers a live process.
	vanish bool

	// spawnGate, when non-nil, blocks Run before the spawn so tests can
	// exercise the admission-to-spawn window.
	spawnGate chan struct{}
}

func newFakeRunner(store *task.Store) *fakeRunner {
	return &fakeRunner{store: store, procs: make(map[string]*fakeProc)}
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, spec jobkind.Spec) task.Snapshot {
	if f.spawnGate != nil {
		<-f.spawnGate
	}
	if snap, ok := f.store.Snapshot(jobID); ok && snap.State.Terminal() {
		return snap
	}

	snap, _ := f.store.Transition(jobID, task.StateRunning, "")

	if f.vanish {
		<-ctx.Done()
		return snap
	}

	p := &fakeProc{kill: make(chan killOrder, 1), done: make(chan task.State, 1)}
	f.mu.Lock()
	f.procs[jobID] = p
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.procs, jobID)
		f.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		final, _ := f.store.Transition(jobID, task.StateCancelled, "")
		return final
	case k := <-p.kill:
		final, _ := f.store.Transition(jobID, k.outcome, k.reason)
		return final
	case st := <-p.done:
		final, _ := f.store.Transition(jobID, st, "")
		return final
	}
}

func (f *fakeRunner) Cancel(jobID string) bool {
	f.mu.Lock()
	p, ok := f.procs[jobID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.kill <- killOrder{reason: "", outcome: task.StateCancelled}:
		return true
	default:
		return false
	}
}

func (f *fakeRunner) ForceKill(jobID, reason string) bool {
	f.mu.Lock()
	p, ok := f.procs[jobID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.kill <- killOrder{reason: reason, outcome: task.StateFailed}:
		return true
	default:
		return false
	}
}

func (f *fakeRunner) Alive(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[jobID]
	return ok
}

func (f *fakeRunner) finish(jobID string, st task.State) {
	f.mu.Lock()
	p, ok := f.procs[jobID]
	f.mu.Unlock()
	if ok {
		p.done <- st
	}
}

func (f *fakeRunner) waitRunning(t *testing.T, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.Alive(jobID) }, 2*time.Second, 5*time.Millisecond)
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []task.Snapshot
}

func (r *recordingSink) OnStatus(snap task.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSink) last() (task.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return task.Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func testKinds(t *testing.T) *jobkind.Registry {
	t.Helper()
	reg, err := jobkind.NewRegistry([]jobkind.Spec{
		{Name: "collect", Command: "python3", Flags: map[string]string{"market": "kospi"}},
		{Name: "analyze", Command: "python3"},
	})
	require.NoError(t, err)
	return reg
}

func newCoordinator(t *testing.T) (*Coordinator, *fakeRunner, *task.Store, *recordingSink) {
	t.Helper()
	store := task.NewStore(100)
	runner := newFakeRunner(store)
	sink := &recordingSink{}
	c := NewCoordinator(testKinds(t), store, runner).WithSink(sink)
	return c, runner, store, sink
}

func waitSlotEmpty(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, held := c.CurrentInfo()
		return !held
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTryStart_AdmitsWhenSlotEmpty(t *testing.T) {
	c, runner, store, _ := newCoordinator(t)

	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)

	require.NoError(t, err)
	require.NotEmpty(t, acc.JobID)

	info, held := c.CurrentInfo()
	require.True(t, held)
	require.Equal(t, acc.JobID, info.JobID)
	require.Equal(t, "collect", info.Kind)
	require.Equal(t, "alice", info.Owner)

	runner.waitRunning(t, acc.JobID)
	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateRunning, snap.State)
}

func TestTryStart_ConflictNamesHolder(t *testing.T) {
	c, runner, _, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	_, err = c.TryStart(context.Background(), "analyze", "bob", "", nil)

	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "alice", conflict.Owner)
	require.Equal(t, "collect", conflict.Kind)
	require.Equal(t, acc.JobID, conflict.JobID)
}

func TestTryStart_GlobalExclusivityAcrossKinds(t *testing.T) {
	c, runner, _, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	// Same kind or different kind, one slot gates them all.
	_, err = c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.Error(t, err)
	_, err = c.TryStart(context.Background(), "analyze", "alice", "", nil)
	require.Error(t, err)
}

func TestTryStart_ConcurrentCallersExactlyOneWins(t *testing.T) {
	c, _, _, _ := newCoordinator(t)

	const callers = 16
	results := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			_, err := c.TryStart(context.Background(), "collect", "racer", "", nil)
			results <- err
		}()
	}
	start.Done()

	var accepted, conflicts int
	for i := 0; i < callers; i++ {
		err := <-results
		if err == nil {
			accepted++
			continue
		}
		var conflict *LockConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, "racer", conflict.Owner)
		conflicts++
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, callers-1, conflicts)
}

func TestTryStart_UnknownKind(t *testing.T) {
	c, _, _, _ := newCoordinator(t)

	_, err := c.TryStart(context.Background(), "mystery", "alice", "", nil)

	require.ErrorIs(t, err, ErrUnknownKind)
	_, held := c.CurrentInfo()
	require.False(t, held)
}

func TestTryStart_SlotFreedAfterNaturalCompletion(t *testing.T) {
	c, runner, store, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	runner.finish(acc.JobID, task.StateCompleted)
	waitSlotEmpty(t, c)

	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateCompleted, snap.State)

	// The next start is admitted again.
	_, err = c.TryStart(context.Background(), "analyze", "bob", "", nil)
	require.NoError(t, err)
}

func TestCancel_ByOwnerKillsAndReleases(t *testing.T) {
	c, runner, store, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	require.True(t, c.Cancel(acc.JobID, "alice"))

	waitSlotEmpty(t, c)
	require.Eventually(t, func() bool {
		snap, ok := store.Snapshot(acc.JobID)
		return ok && snap.State == task.StateCancelled
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, runner.Alive(acc.JobID))

	// Cancel after the fact is a no-op.
	require.False(t, c.Cancel(acc.JobID, "alice"))
}

func TestCancel_ByNonOwnerIsRejected(t *testing.T) {
	c, runner, store, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	require.False(t, c.Cancel(acc.JobID, "mallory"))

	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateRunning, snap.State, "job must be untouched")
	_, held := c.CurrentInfo()
	require.True(t, held)
}

func TestCancel_UnknownJob(t *testing.T) {
	c, _, _, _ := newCoordinator(t)

	require.False(t, c.Cancel("nope", "alice"))
}

func TestCancel_BeforeSpawnStillCancels(t *testing.T) {
	c, runner, store, sink := newCoordinator(t)
	runner.spawnGate = make(chan struct{})
	defer close(runner.spawnGate)

	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)

	// No process exists yet; cancellation must still win.
	require.True(t, c.Cancel(acc.JobID, "alice"))

	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateCancelled, snap.State)
	_, held := c.CurrentInfo()
	require.False(t, held)

	last, ok := sink.last()
	require.True(t, ok)
	require.Equal(t, task.StateCancelled, last.State)
}

func TestReconcile_RecoversOrphanedLock(t *testing.T) {
	c, runner, store, sink := newCoordinator(t)
	runner.vanish = true
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	acc, err := c.TryStart(ctx, "collect", "alice", "", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := store.Snapshot(acc.JobID)
		return ok && snap.State == task.StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, c.Reconcile())

	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateFailed, snap.State)
	require.Equal(t, "orphaned lock", snap.Error)
	_, held := c.CurrentInfo()
	require.False(t, held)

	last, ok := sink.last()
	require.True(t, ok)
	require.Equal(t, task.StateFailed, last.State)

	// Idempotent: nothing left to recover.
	require.False(t, c.Reconcile())
}

func TestReconcile_LeavesHealthyRunAlone(t *testing.T) {
	c, runner, store, _ := newCoordinator(t)
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	require.False(t, c.Reconcile())

	snap, ok := store.Snapshot(acc.JobID)
	require.True(t, ok)
	require.Equal(t, task.StateRunning, snap.State)
	_, held := c.CurrentInfo()
	require.True(t, held)
}

func TestReconcile_LeavesStartingJobAlone(t *testing.T) {
	c, runner, _, _ := newCoordinator(t)
	runner.spawnGate = make(chan struct{})
	defer close(runner.spawnGate)

	_, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)

	require.False(t, c.Reconcile(), "a job between admission and spawn is not an orphan")
	_, held := c.CurrentInfo()
	require.True(t, held)
}

func TestReconcile_EmptySlot(t *testing.T) {
	c, _, _, _ := newCoordinator(t)

	require.False(t, c.Reconcile())
}
