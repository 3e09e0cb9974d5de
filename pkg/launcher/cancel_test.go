package launcher

import (
	"sync/atomic"
	"testing"

	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSignalDuringLaunchingOnlyFlagsOnFirstSIGINT(t *testing.T) {
	tr := state.NewTracker(2, 2)
	var broadcasts int32
	c := NewCancelController(tr, func() { atomic.AddInt32(&broadcasts, 1) })

	c.Signal()

	assert.True(t, c.Cancelled())
	assert.Equal(t, types.JobLaunching, tr.Job())
	assert.Equal(t, int32(0), atomic.LoadInt32(&broadcasts))
}

func TestSecondSignalEscalatesToCancelled(t *testing.T) {
	tr := state.NewTracker(2, 2)
	var broadcasts int32
	c := NewCancelController(tr, func() { atomic.AddInt32(&broadcasts, 1) })

	c.Signal()
	c.Signal()

	assert.Equal(t, types.JobCancelled, tr.Job())
	assert.Equal(t, int32(1), atomic.LoadInt32(&broadcasts))
	assert.Equal(t, 128+2, tr.ExitCode())
}

func TestSignalAfterLaunchingEscalatesImmediately(t *testing.T) {
	tr := state.NewTracker(1, 1)
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)
	var broadcasts int32
	c := NewCancelController(tr, func() { atomic.AddInt32(&broadcasts, 1) })

	c.Signal()

	assert.Equal(t, types.JobCancelled, tr.Job())
	assert.Equal(t, int32(1), atomic.LoadInt32(&broadcasts))
}

func TestFinalizeIfCancelledAppliesLoneLaunchingSignal(t *testing.T) {
	tr := state.NewTracker(2, 2)
	var broadcasts int32
	c := NewCancelController(tr, func() { atomic.AddInt32(&broadcasts, 1) })

	c.Signal() // lone SIGINT during LAUNCHING: flag only, no transition yet
	assert.Equal(t, types.JobLaunching, tr.Job())

	c.FinalizeIfCancelled() // pool has drained: orderly teardown finalizes

	assert.Equal(t, types.JobCancelled, tr.Job())
	assert.Equal(t, int32(1), atomic.LoadInt32(&broadcasts))
	assert.Equal(t, 128+2, tr.ExitCode())
}

func TestFinalizeIfCancelledIsNoOpWithoutASignal(t *testing.T) {
	tr := state.NewTracker(1, 1)
	c := NewCancelController(tr, nil)

	c.FinalizeIfCancelled()

	assert.Equal(t, types.JobLaunching, tr.Job())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	tr := state.NewTracker(1, 1)
	var broadcasts int32
	c := NewCancelController(tr, func() { atomic.AddInt32(&broadcasts, 1) })

	c.Signal()
	c.FinalizeIfCancelled()
	c.FinalizeIfCancelled()
	c.Signal()

	assert.Equal(t, int32(1), atomic.LoadInt32(&broadcasts))
}
