package launcher

import (
	"sync"

	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/types"
)

// CancelController implements the two-stage SIGINT escalation of spec
// §4.8: the first SIGINT observed while the job is still LAUNCHING
// only flips a flag the Worker Pool polls at admission — in-flight
// workers finish their current RPC rather than being preempted
// mid-send. A second SIGINT, or any SIGINT once the job has left
// LAUNCHING, forwards the signal immediately and transitions JobState
// to CANCELLED. Once the pool has drained after a flag-only signal,
// the caller must invoke FinalizeIfCancelled so a launch that never
// saw a second signal still tears down in an orderly way.
type CancelController struct {
	mu          sync.Mutex
	sigintCount int
	finalized   bool
	tracker     *state.Tracker
	broadcast   func()
}

// NewCancelController constructs a controller bound to tracker.
// broadcast is invoked when the signal escalates to a forward — it is
// the caller's hook for delivering SIGINT to remaining node daemons;
// nil is accepted for tests that only assert state transitions.
func NewCancelController(tracker *state.Tracker, broadcast func()) *CancelController {
	return &CancelController{tracker: tracker, broadcast: broadcast}
}

// Signal records one SIGINT/SIGTERM delivery and applies the
// escalation rule.
func (c *CancelController) Signal() {
	c.mu.Lock()
	c.sigintCount++
	count := c.sigintCount
	job := c.tracker.Job()
	c.mu.Unlock()

	if count == 1 && job == types.JobLaunching {
		return
	}
	c.finalize()
}

// FinalizeIfCancelled applies the cancellation's terminal transition
// if a signal was observed but never escalated during Signal itself
// (the single-SIGINT-during-LAUNCHING case, spec §8 scenario 3): once
// the pool has drained its in-flight workers, the orderly teardown
// still owes the caller a CANCELLED JobState and a forwarded signal.
func (c *CancelController) FinalizeIfCancelled() {
	c.mu.Lock()
	cancelled := c.sigintCount > 0
	c.mu.Unlock()
	if cancelled {
		c.finalize()
	}
}

func (c *CancelController) finalize() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	c.mu.Unlock()

	c.tracker.RecordSignal(2) // SIGINT
	if c.broadcast != nil {
		c.broadcast()
	}
	c.tracker.SetJob(types.JobCancelled)
}

// Cancelled reports whether any signal has been observed, the flag
// the Worker Pool polls at each admission (spec §4.3's early
// termination condition).
func (c *CancelController) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sigintCount > 0
}
