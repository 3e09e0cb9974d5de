// Package state implements the State Tracker (spec §4.5): the
// authoritative per-host and per-task state for the main process,
// the job life-cycle state machine, and the kill-on-bad-exit
// cancellation rule. A single mutex covers host and task state,
// mirroring spec §5's "single mutex covering both host and task
// state"; JobState gets its own mutex paired with its own condvar,
// also per spec §5.
package state

import (
	"sync"

	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/types"
)

// Tracker owns the per-launch state described by spec §3/§4.5.
type Tracker struct {
	mu    sync.Mutex
	hosts []types.HostState
	tasks []types.TaskState
	codes []int

	totalTasks     int
	nodeCount      int
	oneTaskPerNode bool
	exitedCount    int

	killOnBadExit  bool
	cancelledOnce  bool
	maxExitCode    int
	dominantSignal int // highest signal number observed across exits

	jobMu   sync.Mutex
	jobCond *sync.Cond
	job     types.JobState

	onCancelRequested func()
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithKillOnBadExit enables the single job-wide cancel triggered by
// any task's non-zero exit.
func WithKillOnBadExit(enabled bool) Option {
	return func(t *Tracker) { t.killOnBadExit = enabled }
}

// WithOneTaskPerNode changes the exit-completion threshold from
// total_tasks to node_count, per spec §4.2/§4.8 scenario 5.
func WithOneTaskPerNode(enabled bool) Option {
	return func(t *Tracker) { t.oneTaskPerNode = enabled }
}

// WithCancelCallback registers the hook invoked exactly once when the
// kill-on-bad-exit rule fires, used by pkg/launcher to broadcast
// SIGINT to remaining tasks.
func WithCancelCallback(fn func()) Option {
	return func(t *Tracker) { t.onCancelRequested = fn }
}

// NewTracker constructs a Tracker for a step with nodeCount nodes and
// totalTasks tasks, all starting at their initial states.
func NewTracker(nodeCount, totalTasks int, opts ...Option) *Tracker {
	t := &Tracker{
		hosts:      make([]types.HostState, nodeCount),
		tasks:      make([]types.TaskState, totalTasks),
		codes:      make([]int, totalTasks),
		nodeCount:  nodeCount,
		totalTasks: totalTasks,
		job:        types.JobLaunching,
	}
	t.jobCond = sync.NewCond(&t.jobMu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetHost applies the monotonic host transition of spec §4.5: once
// UNREACHABLE or REPLIED, further writes are ignored. It reports
// whether the write took effect.
func (t *Tracker) SetHost(i int, s types.HostState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hosts[i].Terminal() {
		return false
	}
	t.hosts[i] = s
	return true
}

// Host returns node i's current state.
func (t *Tracker) Host(i int) types.HostState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hosts[i]
}

// HostSummary returns the count of REPLIED and UNREACHABLE hosts, for
// the terminal-time invariant in spec §8:
// |REPLIED|+|UNREACHABLE| == node_count.
func (t *Tracker) HostSummary() (replied, unreachable int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.hosts {
		switch h {
		case types.HostReplied:
			replied++
		case types.HostUnreachable:
			unreachable++
		}
	}
	return
}

// SetTask applies the monotonic task transition of spec §4.5:
// PENDING < RUNNING < terminal, with idempotent terminal writes. It
// reports whether the state actually progressed (idempotent
// terminal-to-same-terminal writes return true but do not re-fire
// completion bookkeeping).
func (t *Tracker) SetTask(id int, s types.TaskState) bool {
	t.mu.Lock()
	cur := t.tasks[id]
	if !cur.Advances(s) {
		t.mu.Unlock()
		return false
	}
	becameTerminalNow := !cur.Terminal() && s.Terminal()
	t.tasks[id] = s
	if becameTerminalNow {
		t.exitedCount++
	}
	threshold := t.totalTasks
	if t.oneTaskPerNode {
		threshold = t.nodeCount
	}
	allExited := t.exitedCount >= threshold
	t.mu.Unlock()

	if becameTerminalNow && allExited {
		t.SetJob(types.JobTerminated)
	}
	return true
}

// Task returns task id's current state.
func (t *Tracker) Task(id int) types.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks[id]
}

// FailTasks marks every id in ids FAILED, used by the Per-Node Launch
// Worker on a node's terminal failure (spec §4.4 step 6).
func (t *Tracker) FailTasks(ids []int) {
	for _, id := range ids {
		t.SetTask(id, types.TaskFailed)
	}
}

// RecordExit records task id's exit code alongside its state
// transition (EXITED, ABNORMAL_EXIT, or IO_WAIT per caller's choice
// via state), decoding the original wire signal-death convention
// (spec §4.5, §7: exit code is preserved for the job's eventual exit
// code, maximum across all tasks, with signal-death biased to
// 128+signal) and evaluating the kill-on-bad-exit rule.
func (t *Tracker) RecordExit(id int, returnCode int, state types.TaskState) {
	code, signaled, signum := rpc.DecodeSignalExit(returnCode)

	t.mu.Lock()
	t.codes[id] = code
	if signaled {
		if 128+signum > t.maxExitCode {
			t.maxExitCode = 128 + signum
		}
		if signum > t.dominantSignal {
			t.dominantSignal = signum
		}
	} else if code > t.maxExitCode {
		t.maxExitCode = code
	}
	t.mu.Unlock()

	t.SetTask(id, state)

	if !signaled && code != 0 && t.killOnBadExit {
		t.requestCancelOnce()
	}
}

func (t *Tracker) requestCancelOnce() {
	t.mu.Lock()
	if t.cancelledOnce {
		t.mu.Unlock()
		return
	}
	t.cancelledOnce = true
	cb := t.onCancelRequested
	t.mu.Unlock()

	t.SetJob(types.JobCancelled)
	if cb != nil {
		cb()
	}
}

// ExitCode computes the job's process exit code per spec §7: 128+sig
// if any task died by signal, otherwise max(task_exit_code).
func (t *Tracker) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dominantSignal > 0 {
		return 128 + t.dominantSignal
	}
	return t.maxExitCode
}

// RecordSignal folds a job-level signal delivery (the cancellation
// path forwarding SIGINT to remaining tasks, spec §4.8) into the same
// dominant-signal bias ExitCode applies for task signal deaths.
func (t *Tracker) RecordSignal(signum int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if signum > t.dominantSignal {
		t.dominantSignal = signum
	}
}

// SetJob applies the monotone JobState transition (LAUNCHING <
// STARTING < RUNNING < terminal) and wakes any waiters in WaitTerminal
// when the new state is terminal. It reports whether the transition
// was accepted.
func (t *Tracker) SetJob(s types.JobState) bool {
	t.jobMu.Lock()
	defer t.jobMu.Unlock()
	if !t.job.Advances(s) {
		return false
	}
	t.job = s
	t.jobCond.Broadcast()
	return true
}

// Job returns the current JobState.
func (t *Tracker) Job() types.JobState {
	t.jobMu.Lock()
	defer t.jobMu.Unlock()
	return t.job
}

// WaitTerminal blocks until the JobState reaches a terminal value,
// per spec §5's "final wait in launch on the terminal JobState
// (condvar)". Timeout and cancellation are driven externally by
// pkg/launcher calling SetJob with a terminal state directly — this
// call simply observes that transition.
func (t *Tracker) WaitTerminal() types.JobState {
	t.jobMu.Lock()
	defer t.jobMu.Unlock()
	for !t.job.Terminal() {
		t.jobCond.Wait()
	}
	return t.job
}
