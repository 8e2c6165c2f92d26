package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantor/quantor/pkg/task"
)

func TestSlotLock_ExclusiveAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantor.lock")

	first := NewSlotLock(path)
	held, err := first.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)

	// Each instance opens its own file description, so this models a
	// second process contending for the same lock file.
	second := NewSlotLock(path)
	held, err = second.TryAcquire()
	require.NoError(t, err)
	require.False(t, held)

	require.NoError(t, first.Release())
	held, err = second.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	require.NoError(t, second.Release())
}

func TestTryStart_RejectedWhileSlotLockHeldElsewhere(t *testing.T) {
	c, _, _, _ := newCoordinator(t)
	path := filepath.Join(t.TempDir(), "quantor.lock")
	c.WithSlotLock(NewSlotLock(path))

	outside := NewSlotLock(path)
	held, err := outside.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)

	_, err = c.TryStart(context.Background(), "collect", "alice", "", nil)

	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	require.Empty(t, conflict.JobID)
	require.Equal(t, "another process", conflict.Owner)

	require.NoError(t, outside.Release())
	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, acc.JobID)
}

func TestTryStart_SlotLockReleasedWithSlot(t *testing.T) {
	c, runner, _, _ := newCoordinator(t)
	path := filepath.Join(t.TempDir(), "quantor.lock")
	c.WithSlotLock(NewSlotLock(path))

	acc, err := c.TryStart(context.Background(), "collect", "alice", "", nil)
	require.NoError(t, err)
	runner.waitRunning(t, acc.JobID)

	// While the run holds the slot, the file lock is held too.
	outside := NewSlotLock(path)
	held, err := outside.TryAcquire()
	require.NoError(t, err)
	require.False(t, held)

	runner.finish(acc.JobID, task.StateCompleted)
	waitSlotEmpty(t, c)

	require.Eventually(t, func() bool {
		held, err := outside.TryAcquire()
		return err == nil && held
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, outside.Release())
}
