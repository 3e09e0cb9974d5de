package msghandler

import (
	"context"
	"io"
	"testing"

	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/peer"
)

const testUID = 1000

func authorizedCtx() context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{AuthInfo: peerCredAuthInfo{UID: testUID}})
}

func newTestHandler(t *testing.T, cfg Config) (*Handler, *eventpipe.Reader) {
	t.Helper()
	reader, writer, err := eventpipe.NewPipe()
	require.NoError(t, err)
	if cfg.AuthorizedUIDs == nil {
		cfg.AuthorizedUIDs = map[uint32]bool{testUID: true}
	}
	return New(writer, cfg), reader
}

func drainFrames(t *testing.T, r *eventpipe.Reader, n int) []eventpipe.Frame {
	t.Helper()
	frames := make([]eventpipe.Frame, 0, n)
	for i := 0; i < n; i++ {
		fr, err := r.ReadFrame()
		require.NoError(t, err)
		frames = append(frames, fr)
	}
	return frames
}

func TestDeliverLaunchResponseSuccessEmitsHostReplyAndProcDescs(t *testing.T) {
	h, reader := newTestHandler(t, Config{
		NodeTaskIDs: map[int][]int{0: {0, 1}},
		TotalTasks:  2,
	})

	go func() {
		_, err := h.DeliverLaunchResponse(authorizedCtx(), &rpc.LaunchTasksResponse{
			SrunNodeID: 0,
			ReturnCode: 0,
			LocalPIDs:  []int{111, 112},
		})
		assert.NoError(t, err)
	}()

	frames := drainFrames(t, reader, 6)
	assert.Equal(t, eventpipe.TagHostState, frames[0].Tag)
	assert.Equal(t, types.HostReplied, frames[0].Host)
	assert.Equal(t, eventpipe.TagTaskState, frames[1].Tag)
	assert.Equal(t, 0, frames[1].TaskID)
	assert.Equal(t, types.TaskRunning, frames[1].Task)
	assert.Equal(t, eventpipe.TagProcDesc, frames[2].Tag)
	assert.Equal(t, 0, frames[2].TaskID)
	assert.Equal(t, 111, frames[2].PID)
	assert.Equal(t, eventpipe.TagTaskState, frames[3].Tag)
	assert.Equal(t, 1, frames[3].TaskID)
	assert.Equal(t, types.TaskRunning, frames[3].Task)
	assert.Equal(t, eventpipe.TagProcDesc, frames[4].Tag)
	assert.Equal(t, 1, frames[4].TaskID)
	assert.Equal(t, eventpipe.TagDebugState, frames[5].Tag)
	assert.Equal(t, types.DebugSpawned, frames[5].Debug)
}

func TestDeliverLaunchResponseErrorEmitsTaskFailures(t *testing.T) {
	h, reader := newTestHandler(t, Config{
		NodeTaskIDs: map[int][]int{0: {0, 1}},
		TotalTasks:  2,
	})

	go func() {
		_, err := h.DeliverLaunchResponse(authorizedCtx(), &rpc.LaunchTasksResponse{
			SrunNodeID: 0,
			ReturnCode: 1,
		})
		assert.NoError(t, err)
	}()

	frames := drainFrames(t, reader, 4)
	assert.Equal(t, eventpipe.TagHostState, frames[0].Tag)
	assert.Equal(t, eventpipe.TagTaskState, frames[1].Tag)
	assert.Equal(t, types.TaskFailed, frames[1].Task)
	assert.Equal(t, eventpipe.TagTaskState, frames[2].Tag)
	assert.Equal(t, eventpipe.TagDebugState, frames[3].Tag)
	assert.Equal(t, types.DebugAborting, frames[3].Debug)
}

func TestDeliverTaskExitEmitsJobTerminatedWhenAllExited(t *testing.T) {
	h, reader := newTestHandler(t, Config{TotalTasks: 2})

	go func() {
		_, err := h.DeliverTaskExit(authorizedCtx(), &rpc.TaskExit{TaskIDList: []int{0, 1}, ReturnCode: 0})
		assert.NoError(t, err)
	}()

	frames := drainFrames(t, reader, 5)
	assert.Equal(t, eventpipe.TagTaskState, frames[0].Tag)
	assert.Equal(t, types.TaskExited, frames[0].Task)
	assert.Equal(t, eventpipe.TagTaskExit, frames[1].Tag)
	assert.Equal(t, eventpipe.TagTaskState, frames[2].Tag)
	assert.Equal(t, eventpipe.TagTaskExit, frames[3].Tag)
	assert.Equal(t, eventpipe.TagJobState, frames[4].Tag)
	assert.Equal(t, types.JobTerminated, frames[4].Job)
}

func TestDeliverNodeFailIntolerantEmitsForceTerm(t *testing.T) {
	forceTermCalled := false
	h, reader := newTestHandler(t, Config{
		ToleratesNodeFailures: false,
		OnForceTerm:           func() { forceTermCalled = true },
	})

	go func() {
		_, err := h.DeliverNodeFail(authorizedCtx(), &rpc.NodeFail{NodeList: []string{"node3"}})
		assert.NoError(t, err)
	}()

	frames := drainFrames(t, reader, 1)
	assert.Equal(t, eventpipe.TagJobState, frames[0].Tag)
	assert.Equal(t, types.JobForceTerm, frames[0].Job)
	assert.True(t, forceTermCalled)
}

func TestDeliverPingUpdatesLastContactAndEmitsNoFrame(t *testing.T) {
	h, reader := newTestHandler(t, Config{})

	reply, err := h.DeliverPing(authorizedCtx(), &rpc.Ping{})
	require.NoError(t, err)
	assert.Equal(t, 0, reply.ReturnCode)
	assert.False(t, h.LastControllerContact().IsZero())

	require.NoError(t, h.pipe.Close())
	_, err = reader.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnauthorizedUIDIsRejected(t *testing.T) {
	h, _ := newTestHandler(t, Config{AuthorizedUIDs: map[uint32]bool{42: true}})

	ctx := peer.NewContext(context.Background(), &peer.Peer{AuthInfo: peerCredAuthInfo{UID: 9999}})
	_, err := h.DeliverPing(ctx, &rpc.Ping{})
	assert.Error(t, err)
}

func TestMissingPeerInfoIsRejected(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	_, err := h.DeliverPing(context.Background(), &rpc.Ping{})
	assert.Error(t, err)
}
