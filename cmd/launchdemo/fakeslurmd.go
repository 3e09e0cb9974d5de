package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeSlurmd stands in for the external node daemon this module never
// ships (spec §1): it answers LaunchTasks synchronously the way a real
// slurmd would, then calls back into the Message Handler's listener
// asynchronously with a launch response and a task-exit batch, the
// same two-phase exchange spec §4.6's protocol table documents.
type fakeSlurmd struct {
	nodeIndex      int
	nodeName       string
	fail           bool
	callbackSocket string
}

func (f *fakeSlurmd) LaunchTasks(ctx context.Context, req *rpc.LaunchTasksRequest) (*rpc.LaunchTasksResponse, error) {
	if f.fail {
		return nil, status.Error(codes.Unavailable, "simulated node failure")
	}

	pids := make([]int, req.TasksToLaunch)
	for i := range pids {
		pids[i] = 10000 + req.GlobalTaskIDs[i]
	}
	resp := &rpc.LaunchTasksResponse{
		SrunNodeID:  req.SrunNodeID,
		NodeName:    f.nodeName,
		ReturnCode:  0,
		CountOfPIDs: len(pids),
		LocalPIDs:   pids,
	}

	go f.deliverCallback(resp, req.GlobalTaskIDs)

	return resp, nil
}

func (f *fakeSlurmd) ReattachTasks(ctx context.Context, req *rpc.LaunchTasksRequest) (*rpc.ReattachTasksResponse, error) {
	return &rpc.ReattachTasksResponse{SrunNodeID: req.SrunNodeID, NodeName: f.nodeName}, nil
}

// deliverCallback simulates the tasks running to completion: a launch
// response arrives immediately, a task-exit batch follows a short
// delay later, exactly the order the Message Handler helper expects
// on its callback listener.
func (f *fakeSlurmd) deliverCallback(resp *rpc.LaunchTasksResponse, taskIDs []int) {
	logger := log.WithComponent("fakeslurmd").With().Int("node_index", f.nodeIndex).Logger()

	conn, err := rpc.Dial("unix:"+f.callbackSocket, nil)
	if err != nil {
		logger.Error().Err(err).Msg("fake slurmd could not dial callback listener")
		return
	}
	defer conn.Close()
	client := rpc.NewSlurmdCallbackClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.DeliverLaunchResponse(ctx, resp); err != nil {
		logger.Error().Err(err).Msg("fake slurmd failed to deliver launch response")
		return
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := client.DeliverTaskExit(ctx, &rpc.TaskExit{TaskIDList: taskIDs, ReturnCode: 0, NumTasks: len(taskIDs)}); err != nil {
		logger.Error().Err(err).Msg("fake slurmd failed to deliver task exit")
	}
}

// startFakeSlurmds stands up one in-process gRPC server per node in
// nodeList, each listening on its own Unix socket under dir and
// answering as that node's slurmd. When failNode is non-negative, the
// slurmd at that index always fails its LaunchTasks call, exercising
// the NodeUnreachable/exit-124 path (spec §7).
func startFakeSlurmds(dir string, nodeList []string, callbackSocket string, failNode int) (peers map[string]string, cleanup func(), err error) {
	servers := make([]*grpc.Server, 0, len(nodeList))
	listeners := make([]net.Listener, 0, len(nodeList))
	peers = make(map[string]string, len(nodeList))

	cleanup = func() {
		for _, srv := range servers {
			srv.Stop()
		}
		for _, lis := range listeners {
			_ = lis.Close()
		}
	}

	for i, name := range nodeList {
		sockPath := filepath.Join(dir, fmt.Sprintf("slurmd-%d.sock", i))
		_ = os.Remove(sockPath)
		lis, listenErr := net.Listen("unix", sockPath)
		if listenErr != nil {
			cleanup()
			return nil, nil, fmt.Errorf("launchdemo: listen fake slurmd %d: %w", i, listenErr)
		}
		listeners = append(listeners, lis)

		srv := grpc.NewServer()
		srv.RegisterService(&rpc.SlurmdLaunchServiceDesc, &fakeSlurmd{
			nodeIndex:      i,
			nodeName:       name,
			fail:           i == failNode,
			callbackSocket: callbackSocket,
		})
		servers = append(servers, srv)
		go func() { _ = srv.Serve(lis) }()

		peers[name] = sockPath
	}

	return peers, cleanup, nil
}
