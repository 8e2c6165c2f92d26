// Package supervisor spawns and babysits the external analysis worker of
// one job: it streams the worker's stdout through the line protocol parser
// into the status store, watches for hangs and wall-clock overruns, and
// guarantees the OS process is gone on every exit path.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/lineproto"
	"github.com/quantor/quantor/pkg/task"
)

// The worker's text encoding is forced to UTF-8 regardless of the host
// locale, so marker parsing never sees mojibake.
const (
	textEncodingKey   = "PYTHONIOENCODING"
	textEncodingValue = "utf-8"
)

// DefaultWatchTick is how often the hang watchdog samples worker silence.
const DefaultWatchTick = 5 * time.Second

// aliveSignal probes process existence without affecting it.
var aliveSignal = syscall.Signal(0)

// Kill reasons surfaced verbatim in the job's terminal status.
const (
	ReasonHang      = "hang detected"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonShutdown  = "coordinator shutdown"
)

// StatusSink receives a snapshot after every observable change of a job's
// status, and one final snapshot for the terminal state.
type StatusSink interface {
	OnStatus(task.Snapshot)
}

// Supervisor runs external workers. One Supervisor serves all job kinds;
// the global admission slot means at most one run is active at a time, but
// the Supervisor itself does not assume that.
type Supervisor struct {
	store     *task.Store
	sink      StatusSink
	watchTick time.Duration

	handles handleMap

	// recordMu serializes store apply + sink delivery, so subscribers see
	// snapshots in the order they were applied even with the stdout and
	// stderr readers running concurrently.
	recordMu sync.Mutex

	// preSpawn, when non-nil, runs after the terminal-state check and
	// before the process starts. Test seam for the cancel-during-spawn
	// window.
	preSpawn func()
}

// NewSupervisor builds a Supervisor over the given status store.
func NewSupervisor(store *task.Store) *Supervisor {
	return &Supervisor{
		store:     store,
		watchTick: DefaultWatchTick,
		handles:   newHandleMap(),
	}
}

// WithSink attaches the sink that live updates are pushed to.
func (s *Supervisor) WithSink(sink StatusSink) *Supervisor {
	s.sink = sink
	return s
}

// WithWatchTick overrides the watchdog sampling period (useful in tests).
func (s *Supervisor) WithWatchTick(d time.Duration) *Supervisor {
	if d > 0 {
		s.watchTick = d
	}
	return s
}

// Run executes the job's worker to completion and returns the terminal
// snapshot. The job record must already exist in Starting. Run blocks;
// callers that need asynchrony run it in a goroutine.
//
// Regardless of how the run ends, the process handle is released and the
// OS process is not left behind.
func (s *Supervisor) Run(ctx context.Context, jobID string, spec jobkind.Spec) task.Snapshot {
	logger := log.With().
		Str("component", "supervisor").
		Str("job_id", jobID).
		Str("kind", spec.Name).
		Logger()

	// A cancel can land between admission and spawn; a terminal record
	// means there is nothing left to run.
	if snap, ok := s.store.Snapshot(jobID); ok && snap.State.Terminal() {
		logger.Debug().Str("state", string(snap.State)).Msg("Job already terminal, skipping spawn")
		return snap
	}

	if s.preSpawn != nil {
		s.preSpawn()
	}

	cmd := exec.Command(spec.Command, spec.CommandArgs()...)
	cmd.Dir = spec.WorkDir
	cmd.Env = workerEnv(spec)
	// Workers get their own process group so a kill takes their children
	// down with them and never leaves a pipe writer behind.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.fail(jobID, fmt.Sprintf("spawn failure: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.fail(jobID, fmt.Sprintf("spawn failure: %v", err))
	}

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str("command", spec.Command).Msg("Worker failed to spawn")
		return s.fail(jobID, fmt.Sprintf("spawn failure: %v", err))
	}

	h := newHandle(cmd.Process)
	s.handles.put(jobID, h)
	defer s.handles.remove(jobID)
	defer h.release()

	logger.Info().Int("pid", cmd.Process.Pid).Msg("Worker spawned")
	if running, err := s.store.Transition(jobID, task.StateRunning, ""); err != nil {
		// A cancel landed while the process was being spawned: the record
		// is already terminal, so the fresh worker must not outlive it.
		logger.Info().Err(err).Msg("Job terminal after spawn, killing worker")
		h.kill(ReasonCancelled, task.StateCancelled)
	} else {
		s.notify(running)
	}

	parser := lineproto.NewParser(spec.Counters)

	// Watchdog and wall-clock tasks stop when watchCtx is cancelled,
	// which happens once the process has been reaped.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()

	var watchers errgroup.Group
	watchers.Go(func() error {
		s.watchHang(watchCtx, h, spec.EffectiveHangTimeout(), logger)
		return nil
	})
	watchers.Go(func() error {
		s.watchWallClock(watchCtx, h, spec.EffectiveWallTimeout(), logger)
		return nil
	})
	watchers.Go(func() error {
		select {
		case <-ctx.Done():
			h.kill(ReasonShutdown, task.StateCancelled)
		case <-watchCtx.Done():
		}
		return nil
	})

	// Both pipes must be drained before Wait; the reader group owns them.
	var readers errgroup.Group
	readers.Go(func() error {
		s.readProtocol(jobID, h, parser, bufio.NewScanner(stdout))
		return nil
	})
	readers.Go(func() error {
		s.readStderr(jobID, bufio.NewScanner(stderr))
		return nil
	})
	_ = readers.Wait()

	waitErr := cmd.Wait()
	stopWatch()
	_ = watchers.Wait()

	final := s.finish(jobID, h, cmd, waitErr, logger)
	s.notify(final)
	return final
}

// Cancel force-kills the job's worker so the run terminates as Cancelled.
// It reports false when no live process exists for the job id. Idempotent.
func (s *Supervisor) Cancel(jobID string) bool {
	h, ok := s.handles.get(jobID)
	if !ok {
		return false
	}
	return h.kill(ReasonCancelled, task.StateCancelled)
}

// ForceKill terminates the job's worker and fails the job with the given
// reason. Used by the administrative override.
func (s *Supervisor) ForceKill(jobID, reason string) bool {
	h, ok := s.handles.get(jobID)
	if !ok {
		return false
	}
	return h.kill(reason, task.StateFailed)
}

// Alive probes whether the job's OS process actually exists, independent
// of the recorded job state.
func (s *Supervisor) Alive(jobID string) bool {
	h, ok := s.handles.get(jobID)
	return ok && h.alive()
}

// readProtocol drives worker stdout through the parser into the store,
// pushing a snapshot to the sink for every change.
func (s *Supervisor) readProtocol(jobID string, h *handle, parser *lineproto.Parser, scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.touch()
		for _, ev := range parser.Parse(scanner.Text()) {
			s.record(jobID, ev)
		}
	}
}

// readStderr captures worker stderr as plain log lines. It is never parsed
// for protocol events and does not feed the hang watchdog.
func (s *Supervisor) readStderr(jobID string, scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.record(jobID, lineproto.Event{Type: lineproto.EventLog, Text: scanner.Text()})
	}
}

// record folds one worker event into the store and delivers the changed
// snapshot. Apply and delivery happen under one lock: a snapshot taken
// inside the store must reach the sink before any later one does.
func (s *Supervisor) record(jobID string, ev lineproto.Event) {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	if snap, changed := s.store.Apply(jobID, ev); changed {
		s.notify(snap)
	}
}

// watchHang kills the worker once stdout has been silent longer than the
// kind's hang threshold.
func (s *Supervisor) watchHang(ctx context.Context, h *handle, threshold time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(s.watchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if silence := h.silence(); silence > threshold {
				logger.Warn().
					Dur("silence", silence).
					Dur("threshold", threshold).
					Msg("Hang detected, killing worker")
				h.kill(ReasonHang, task.StateFailed)
				return
			}
		}
	}
}

// watchWallClock kills the worker when the absolute run time limit passes.
func (s *Supervisor) watchWallClock(ctx context.Context, h *handle, limit time.Duration, logger zerolog.Logger) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		logger.Warn().Dur("limit", limit).Msg("Wall-clock limit exceeded, killing worker")
		h.kill(ReasonTimeout, task.StateFailed)
	}
}

// finish decides the terminal state. A recorded kill wins over the exit
// code; otherwise exit 0 completes the job and anything else fails it.
func (s *Supervisor) finish(jobID string, h *handle, cmd *exec.Cmd, waitErr error, logger zerolog.Logger) task.Snapshot {
	if reason, outcome, killed := h.killInfo(); killed {
		logger.Info().Str("reason", reason).Str("outcome", string(outcome)).Msg("Worker killed")
		return s.transition(jobID, outcome, reason)
	}

	if waitErr == nil {
		// A missing or malformed final result line never fails the job;
		// it completes with an empty result.
		logger.Info().Msg("Worker completed")
		return s.transition(jobID, task.StateCompleted, "")
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	logger.Warn().Int("exit_code", exitCode).Msg("Worker failed")
	return s.transition(jobID, task.StateFailed, fmt.Sprintf("non-zero exit: %d", exitCode))
}

func (s *Supervisor) fail(jobID, reason string) task.Snapshot {
	snap := s.transition(jobID, task.StateFailed, reason)
	s.notify(snap)
	return snap
}

// transition applies a state change, tolerating records that were already
// driven terminal elsewhere (reconcile, force-kill race).
func (s *Supervisor) transition(jobID string, state task.State, detail string) task.Snapshot {
	snap, err := s.store.Transition(jobID, state, detail)
	if err != nil {
		log.Debug().
			Str("component", "supervisor").
			Str("job_id", jobID).
			Err(err).
			Msg("Status transition skipped")
		if current, ok := s.store.Snapshot(jobID); ok {
			return current
		}
	}
	return snap
}

func (s *Supervisor) notify(snap task.Snapshot) {
	if s.sink == nil || snap.ID == "" {
		return
	}
	s.sink.OnStatus(snap)
}

// workerEnv merges the inherited environment with the kind's own and the
// forced text encoding.
func workerEnv(spec jobkind.Spec) []string {
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, textEncodingKey+"="+textEncodingValue)
	return env
}
