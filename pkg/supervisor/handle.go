package supervisor

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quantor/quantor/pkg/task"
)

// handle owns the OS process of one running job. It records the last time
// the worker produced output and which kill, if any, terminated it. Exactly
// one handle exists per active job and it is destroyed on every exit path.
type handle struct {
	proc *os.Process

	// lastOutput is the unix-nano timestamp of the most recent stdout
	// line, read by the hang watchdog.
	lastOutput atomic.Int64

	mu      sync.Mutex
	killed  bool
	reason  string
	outcome task.State
}

func newHandle(proc *os.Process) *handle {
	h := &handle{proc: proc}
	h.touch()
	return h
}

// touch records worker output activity.
func (h *handle) touch() {
	h.lastOutput.Store(time.Now().UnixNano())
}

// silence returns how long the worker has been quiet.
func (h *handle) silence() time.Duration {
	return time.Duration(time.Now().UnixNano() - h.lastOutput.Load())
}

// kill forcefully terminates the process, recording why. Only the first
// call wins; later calls are no-ops so the first recorded reason decides
// the job's terminal state.
func (h *handle) kill(reason string, outcome task.State) bool {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return false
	}
	h.killed = true
	h.reason = reason
	h.outcome = outcome
	h.mu.Unlock()

	h.terminate()
	return true
}

// terminate kills the worker's whole process group, falling back to the
// process itself. Errors are ignored: the process may already be gone, and
// the waiter reaps it either way.
func (h *handle) terminate() {
	if h.proc.Pid > 0 {
		_ = syscall.Kill(-h.proc.Pid, syscall.SIGKILL)
	}
	_ = h.proc.Kill()
}

// killInfo reports whether the process was killed and why.
func (h *handle) killInfo() (reason string, outcome task.State, killed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason, h.outcome, h.killed
}

// alive probes whether the OS process still exists (signal 0).
func (h *handle) alive() bool {
	if h.proc == nil {
		return false
	}
	return h.proc.Signal(aliveSignal) == nil
}

// release guarantees the underlying process is not left running. Called
// via defer on every exit path of a run.
func (h *handle) release() {
	h.mu.Lock()
	alreadyKilled := h.killed
	h.mu.Unlock()
	if !alreadyKilled && h.alive() {
		h.terminate()
	}
}

// handleMap tracks the live handle per job id.
type handleMap struct {
	mu sync.Mutex
	m  map[string]*handle
}

func newHandleMap() handleMap {
	return handleMap{m: make(map[string]*handle)}
}

func (hm *handleMap) put(jobID string, h *handle) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.m[jobID] = h
}

func (hm *handleMap) get(jobID string) (*handle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	h, ok := hm.m[jobID]
	return h, ok
}

func (hm *handleMap) remove(jobID string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.m, jobID)
}
