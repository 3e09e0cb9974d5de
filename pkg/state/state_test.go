package state

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetHostIsMonotone(t *testing.T) {
	tr := NewTracker(3, 6)
	assert.True(t, tr.SetHost(0, types.HostContacted))
	assert.True(t, tr.SetHost(0, types.HostReplied))
	assert.False(t, tr.SetHost(0, types.HostContacted))
	assert.Equal(t, types.HostReplied, tr.Host(0))
}

func TestSetTaskRejectsBackwardTransition(t *testing.T) {
	tr := NewTracker(1, 1)
	require.True(t, tr.SetTask(0, types.TaskRunning))
	assert.False(t, tr.SetTask(0, types.TaskPending))
	assert.Equal(t, types.TaskRunning, tr.Task(0))
}

func TestAllTasksExitedTerminatesJob(t *testing.T) {
	tr := NewTracker(1, 2)
	tr.SetJob(types.JobLaunching)
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)

	tr.SetTask(0, types.TaskRunning)
	tr.SetTask(1, types.TaskRunning)
	tr.SetTask(0, types.TaskExited)
	assert.Equal(t, types.JobRunning, tr.Job())
	tr.SetTask(1, types.TaskExited)
	assert.Equal(t, types.JobTerminated, tr.Job())
}

func TestOneTaskPerNodeThresholdUsesNodeCount(t *testing.T) {
	tr := NewTracker(2, 8, WithOneTaskPerNode(true))
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)
	tr.SetTask(0, types.TaskExited)
	assert.Equal(t, types.JobRunning, tr.Job())
	tr.SetTask(1, types.TaskExited)
	assert.Equal(t, types.JobTerminated, tr.Job())
}

func TestKillOnBadExitCancelsExactlyOnce(t *testing.T) {
	var cancels int32
	tr := NewTracker(1, 3, WithKillOnBadExit(true), WithCancelCallback(func() {
		atomic.AddInt32(&cancels, 1)
	}))
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)

	tr.RecordExit(0, 3, types.TaskAbnormalExit)
	tr.RecordExit(1, 5, types.TaskAbnormalExit)

	assert.Equal(t, int32(1), atomic.LoadInt32(&cancels))
	assert.Equal(t, types.JobCancelled, tr.Job())
}

func TestExitCodeBiasesTowardSignalDeath(t *testing.T) {
	tr := NewTracker(1, 2)
	tr.RecordExit(0, 3, types.TaskExited)
	tr.RecordExit(1, 0x0100|9, types.TaskAbnormalExit)
	assert.Equal(t, 128+9, tr.ExitCode())
}

func TestExitCodeIsMaxWhenNoSignal(t *testing.T) {
	tr := NewTracker(1, 2)
	tr.RecordExit(0, 3, types.TaskExited)
	tr.RecordExit(1, 7, types.TaskExited)
	assert.Equal(t, 7, tr.ExitCode())
}

func TestWaitTerminalUnblocksOnTransition(t *testing.T) {
	tr := NewTracker(1, 1)
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)

	result := make(chan types.JobState, 1)
	go func() { result <- tr.WaitTerminal() }()

	time.Sleep(10 * time.Millisecond)
	tr.SetJob(types.JobFailed)

	select {
	case got := <-result:
		assert.Equal(t, types.JobFailed, got)
	case <-time.After(time.Second):
		t.Fatal("WaitTerminal did not unblock")
	}
}

func TestRecordSignalBiasesExitCodeLikeTaskSignalDeath(t *testing.T) {
	tr := NewTracker(1, 1)
	tr.RecordExit(0, 0, types.TaskExited)
	tr.RecordSignal(2)
	assert.Equal(t, 128+2, tr.ExitCode())
}

func TestHostSummaryCountsTerminalStates(t *testing.T) {
	tr := NewTracker(3, 3)
	tr.SetHost(0, types.HostReplied)
	tr.SetHost(1, types.HostUnreachable)
	replied, unreachable := tr.HostSummary()
	assert.Equal(t, 1, replied)
	assert.Equal(t, 1, unreachable)
}
