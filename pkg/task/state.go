package task

// State is the lifecycle state of a job.
//
// The machine is strictly forward:
//
//	Idle -> Starting -> Running -> {Completed | Failed | Cancelled}
//
// Idle is implicit (no record exists). Terminal states accept no further
// transitions; only an explicit Reset returns the job id to Idle.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// canTransition encodes the allowed state machine edges.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateRunning:
		return from == StateStarting
	case StateCompleted, StateFailed, StateCancelled:
		return from == StateStarting || from == StateRunning
	}
	return false
}
