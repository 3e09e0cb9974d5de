package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGobCodecRoundTrip(t *testing.T) {
	c := gobCodec{}
	req := &LaunchTasksRequest{
		JobID: 7, StepID: 1, UID: 500, GID: 500,
		Argv: []string{"./a.out"}, Cred: []byte("cred"),
		GlobalTaskIDs: []int{0, 1, 2}, TasksToLaunch: 3,
	}
	data, err := c.Marshal(req)
	assert.NoError(t, err)

	var out LaunchTasksRequest
	assert.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
}

func TestDecodeSignalExit(t *testing.T) {
	code, signaled, signum := DecodeSignalExit(0x0100 | 9)
	assert.True(t, signaled)
	assert.Equal(t, 9, signum)
	assert.Equal(t, 0x0100|9, code)

	code, signaled, signum = DecodeSignalExit(3)
	assert.False(t, signaled)
	assert.Equal(t, 0, signum)
	assert.Equal(t, 3, code)
}
