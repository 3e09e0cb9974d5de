package eventpipe

import (
	"io"
	"testing"

	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	r, w, err := NewPipe()
	require.NoError(t, err)

	want := []Frame{
		{Tag: TagHostState, NodeIndex: 2, Host: types.HostReplied},
		{Tag: TagTaskState, TaskID: 5, Task: types.TaskRunning},
		{Tag: TagProcDesc, TaskID: 5, NodeIndex: 2, PID: 4242, HostName: "nodeC"},
	}

	done := make(chan error, 1)
	go func() {
		for _, f := range want {
			if err := w.WriteFrame(f); err != nil {
				done <- err
				return
			}
		}
		done <- w.Close()
	}()

	var got []Frame
	for {
		fr, err := r.ReadFrame()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, fr)
	}
	require.NoError(t, <-done)
	assert.Equal(t, want, got)
}

func TestReadFrameEOFOnClose(t *testing.T) {
	r, w, err := NewPipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}
