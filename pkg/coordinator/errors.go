package coordinator

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind means the requested job kind is not registered.
var ErrUnknownKind = errors.New("unknown job kind")

// LockConflictError is returned by TryStart when the admission slot is
// already held. It carries the holder's identity so the caller can tell
// the user who is blocking them. It is never retried automatically.
type LockConflictError struct {
	JobID     string
	Kind      string
	Owner     string
	StartedAt time.Time
}

func (e *LockConflictError) Error() string {
	// A cross-process conflict carries no job identity.
	if e.JobID == "" {
		return fmt.Sprintf("job slot held by %s", e.Owner)
	}
	return fmt.Sprintf("job slot held by %s (kind %s, job %s)", e.Owner, e.Kind, e.JobID)
}
