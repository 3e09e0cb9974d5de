package launcher

import (
	"testing"

	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/notify"
	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeEventsAppliesFramesAndReturnsProcTable(t *testing.T) {
	reader, writer, err := eventpipe.NewPipe()
	require.NoError(t, err)

	tr := state.NewTracker(1, 1)
	nb := notify.NewBroker()

	done := make(chan []types.ProcTableEntry, 1)
	go func() { done <- ConsumeEvents(reader, tr, nil, nb) }()

	require.NoError(t, writer.WriteFrame(eventpipe.Frame{Tag: eventpipe.TagHostState, NodeIndex: 0, Host: types.HostContacted}))
	require.NoError(t, writer.WriteFrame(eventpipe.Frame{Tag: eventpipe.TagProcDesc, TaskID: 0, NodeIndex: 0, HostName: "node0", ExecName: "app", PID: 123}))
	require.NoError(t, writer.WriteFrame(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: 0, Task: types.TaskExited}))
	require.NoError(t, writer.WriteFrame(eventpipe.Frame{Tag: eventpipe.TagTaskExit, TaskID: 0, Code: 7}))
	require.NoError(t, writer.Close())

	table := <-done

	assert.Equal(t, types.HostContacted, tr.Host(0))
	assert.Equal(t, types.TaskExited, tr.Task(0))
	assert.Equal(t, 7, tr.ExitCode())
	require.Len(t, table, 1)
	assert.Equal(t, "node0", table[0].HostName)
	assert.Equal(t, 123, table[0].PID)
}

func TestConsumeEventsReturnsOnEOFWithNoFrames(t *testing.T) {
	reader, writer, err := eventpipe.NewPipe()
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	table := ConsumeEvents(reader, state.NewTracker(1, 1), nil, nil)

	assert.Empty(t, table)
}

func TestConsumeEventsTerminatesJobFromFrame(t *testing.T) {
	reader, writer, err := eventpipe.NewPipe()
	require.NoError(t, err)

	tr := state.NewTracker(1, 1)
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobRunning)

	done := make(chan []types.ProcTableEntry, 1)
	go func() { done <- ConsumeEvents(reader, tr, nil, nil) }()

	require.NoError(t, writer.WriteFrame(eventpipe.Frame{Tag: eventpipe.TagJobState, Job: types.JobForceTerm}))
	require.NoError(t, writer.Close())
	<-done

	assert.Equal(t, types.JobForceTerm, tr.Job())
}
