package coordinator

import (
	"github.com/gofrs/flock"
)

// SlotLock extends the admission slot across OS processes with an advisory
// file lock: a foreground run and a server on the same host contend for
// one slot instead of both admitting a job.
type SlotLock struct {
	fl *flock.Flock
}

// NewSlotLock builds a slot lock on the given lock file path. The file is
// created on first acquisition and never removed.
func NewSlotLock(path string) *SlotLock {
	return &SlotLock{fl: flock.New(path)}
}

// TryAcquire attempts the lock without blocking. It reports false when
// another process holds it.
func (l *SlotLock) TryAcquire() (bool, error) {
	return l.fl.TryLock()
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *SlotLock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *SlotLock) Path() string {
	return l.fl.Path()
}
