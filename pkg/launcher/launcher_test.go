package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/launcherr"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/step"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestComputeExitCodeReservesOneTwentyFourForExceededLaunchBudget(t *testing.T) {
	tr := state.NewTracker(1, 1)
	tr.SetJob(types.JobStarting)
	tr.SetJob(types.JobFailed)

	got := computeExitCode(tr, types.JobFailed, true)

	assert.Equal(t, 124, got)
}

func TestComputeExitCodeFallsBackToTrackerRuleWhenBudgetNotExceeded(t *testing.T) {
	tr := state.NewTracker(1, 1)
	tr.RecordExit(0, 3, types.TaskExited)

	got := computeExitCode(tr, types.JobTerminated, false)

	assert.Equal(t, 3, got)
}

func TestComputeExitCodeBiasesTowardSignalEvenWhenBudgetFlagSetOnNonFailedJob(t *testing.T) {
	tr := state.NewTracker(1, 1)
	tr.RecordSignal(2)

	got := computeExitCode(tr, types.JobCancelled, true)

	assert.Equal(t, 128+2, got)
}

type fakeLaunchClient struct {
	err error
}

func (f *fakeLaunchClient) LaunchTasks(ctx context.Context, req *rpc.LaunchTasksRequest, opts ...grpc.CallOption) (*rpc.LaunchTasksResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.LaunchTasksResponse{}, nil
}

func (f *fakeLaunchClient) ReattachTasks(ctx context.Context, req *rpc.LaunchTasksRequest, opts ...grpc.CallOption) (*rpc.ReattachTasksResponse, error) {
	return &rpc.ReattachTasksResponse{}, nil
}

func testStep(t *testing.T, nodeCount, tasksPerNode int) *step.Step {
	t.Helper()
	nodeList := make([]string, nodeCount)
	cpus := make([]int, nodeCount)
	for i := range nodeList {
		nodeList[i] = "node" + string(rune('0'+i))
		cpus[i] = tasksPerNode
	}
	s, err := step.Create(1, 1, step.Allocation{NodeList: nodeList, CPUsPerNode: cpus}, nodeCount*tasksPerNode, step.Block, 0, false, nil, nil, 0, 0)
	require.NoError(t, err)
	return s
}

func buildRequests(n int) []*rpc.LaunchTasksRequest {
	reqs := make([]*rpc.LaunchTasksRequest, n)
	for i := range reqs {
		reqs[i] = &rpc.LaunchTasksRequest{}
	}
	return reqs
}

func TestRunDispatchSucceedsAndSetsAllHostsContacted(t *testing.T) {
	s := testStep(t, 2, 1)
	tr := state.NewTracker(s.NodeCount(), s.TotalTasks())
	cancelCtl := NewCancelController(tr, nil)

	opts := Options{
		MaxThreads: 2,
		Config:     config.Default(),
		Dial: func(ctx context.Context, host string) (rpc.SlurmdLaunchClient, error) {
			return &fakeLaunchClient{}, nil
		},
	}

	launchFailureExceeded := runDispatch(context.Background(), s, buildRequests(s.NodeCount()), tr, cancelCtl, opts)

	assert.False(t, launchFailureExceeded)
	replied, unreachable := tr.HostSummary()
	assert.Equal(t, 0, replied)
	assert.Equal(t, 0, unreachable)
	assert.Equal(t, types.HostContacted, tr.Host(0))
	assert.Equal(t, types.HostContacted, tr.Host(1))
}

func TestRunDispatchMarksUnreachableNodeAndExceedsBudgetWhenNoKillUnset(t *testing.T) {
	s := testStep(t, 2, 1)
	tr := state.NewTracker(s.NodeCount(), s.TotalTasks())
	cancelCtl := NewCancelController(tr, nil)

	var broadcasts int
	opts := Options{
		MaxThreads: 2,
		Config:     config.LaunchDefaults{RetryBudget: 0, RetryDelay: time.Millisecond, AdmissionWaitTick: time.Millisecond, WatchdogThreshold: time.Second, WatchdogScanPeriod: time.Second},
		Dial: func(ctx context.Context, host string) (rpc.SlurmdLaunchClient, error) {
			if host == "node0" {
				return &fakeLaunchClient{err: launcherr.InvalidCred("node0", nil)}, nil
			}
			return &fakeLaunchClient{}, nil
		},
		BroadcastSignal: func() { broadcasts++ },
	}

	launchFailureExceeded := runDispatch(context.Background(), s, buildRequests(s.NodeCount()), tr, cancelCtl, opts)

	assert.True(t, launchFailureExceeded)
	assert.Equal(t, types.HostUnreachable, tr.Host(0))
	assert.Equal(t, 1, broadcasts)
}
