// Package launchworker implements the Per-Node Launch Worker (spec
// §4.4): one RPC exchange per slurmd peer, bounded retry, and the
// resulting HostState/TaskState transitions against the State
// Tracker. Grounded on the teacher's worker.Worker request/response
// exchange shape (a single RPC call bounded by a deadline context),
// generalized here into a retry-capable dispatch loop classified by
// pkg/launcherr.
package launchworker

import (
	"context"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/launcherr"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/metrics"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/types"
)

// Outcome is the worker's terminal result for one node, mirroring
// WorkerSlotState's DONE/FAILED split plus a reason string for FAILED.
type Outcome struct {
	Slot   types.WorkerSlotState
	Reason string
}

// Dialer returns a connected client for one node, already bound to
// that peer. Separated from Run so tests can inject fakes without a
// real network dial.
type Dialer func(ctx context.Context, nodeIndex int) (rpc.SlurmdLaunchClient, error)

// Run executes the algorithm of spec §4.4 for a single node and
// returns its terminal outcome. cancelled is polled before every send
// and again after every retry sleep so an in-flight SIGINT aborts the
// worker without touching host state (step 5).
func Run(ctx context.Context, tracker *state.Tracker, cfg config.LaunchDefaults, nodeIndex int, taskIDs []int, req *rpc.LaunchTasksRequest, dial Dialer, cancelled func() bool) Outcome {
	logger := log.WithNode(nodeIndex)
	budget := cfg.RetryBudget

	for {
		if cancelled() {
			return Outcome{Slot: types.SlotFailed, Reason: "INTERRUPTED"}
		}

		client, err := dial(ctx, nodeIndex)
		if err == nil {
			timer := metrics.NewTimer()
			_, err = client.LaunchTasks(ctx, req)
			timer.ObserveDuration(metrics.LaunchRPCDuration)
		}

		if err == nil {
			tracker.SetHost(nodeIndex, types.HostContacted)
			metrics.LaunchAttemptsTotal.WithLabelValues("success").Inc()
			return Outcome{Slot: types.SlotDone}
		}

		classified := classify(err)
		retryable := launcherr.Retryable(classified)

		if retryable && tracker.Job() == types.JobLaunching && budget > 0 {
			metrics.LaunchAttemptsTotal.WithLabelValues("retry").Inc()
			logger.Warn().Err(classified).Int("budget_remaining", budget).Msg("launch RPC failed, retrying")
			budget--
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return Outcome{Slot: types.SlotFailed, Reason: "INTERRUPTED"}
			}
			if cancelled() {
				return Outcome{Slot: types.SlotFailed, Reason: "INTERRUPTED"}
			}
			continue
		}

		metrics.LaunchAttemptsTotal.WithLabelValues("failed").Inc()
		metrics.NodesUnreachableTotal.Inc()
		tracker.SetHost(nodeIndex, types.HostUnreachable)
		tracker.FailTasks(taskIDs)
		logger.Error().Err(classified).Msg("node unreachable, marking tasks failed")
		return Outcome{Slot: types.SlotFailed, Reason: classified.Error()}
	}
}

// classify normalizes a raw RPC error into the launcherr taxonomy.
// Any error not already tagged by the taxonomy is treated as a
// transient peer error: a bare gRPC transport failure (connection
// refused, deadline exceeded) is exactly the retryable case spec §4.4
// step 4 describes.
func classify(err error) error {
	if _, ok := launcherr.KindOf(err); ok {
		return err
	}
	return launcherr.TransientPeer("", err)
}
