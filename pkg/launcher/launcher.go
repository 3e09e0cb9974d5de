// Package launcher composes the Step Layout, Launch Message Builder,
// Worker Pool, Per-Node Launch Worker, State Tracker, Message Handler
// helper, and Event Pipe into the single `Launch` operation described
// by spec §2's composition paragraph. Grounded on the teacher's
// top-level orchestration shape in pkg/manager (a struct wiring its
// collaborators, one exported entrypoint, context-scoped teardown).
package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/debugger"
	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/launcherr"
	"github.com/cuemby/tasklaunch/pkg/launchmsg"
	"github.com/cuemby/tasklaunch/pkg/launchworker"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/metrics"
	"github.com/cuemby/tasklaunch/pkg/msghandler"
	"github.com/cuemby/tasklaunch/pkg/notify"
	"github.com/cuemby/tasklaunch/pkg/pool"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/step"
	"github.com/cuemby/tasklaunch/pkg/types"
)

// Options parameterizes one Launch call with everything spec §6's
// pre-parsed options structure names plus the collaborators this
// module's process boundary requires.
type Options struct {
	MaxThreads            int
	Config                config.LaunchDefaults
	MaxLaunchTime         time.Duration
	MaxExitWait           time.Duration
	KillOnBadExit         bool
	NoKill                bool
	ToleratesNodeFailures bool

	CallerUID    uint32
	SlurmUserUID uint32

	// SocketDir is where the callback listener's Unix socket and the
	// helper's config file are created; defaults to os.TempDir().
	SocketDir string
	// ExecPath is the binary re-exec'd as the Message Handler helper;
	// defaults to os.Executable().
	ExecPath string

	// Dial connects to the slurmd peer at host, bounded by ctx's
	// deadline. Required.
	Dial func(ctx context.Context, host string) (rpc.SlurmdLaunchClient, error)

	// BroadcastSignal forwards SIGINT to the tasks still running on
	// contacted nodes, used by the cancellation finalize path and the
	// kill-on-bad-exit/node-unreachable force-kill paths.
	BroadcastSignal func()

	// Interrupts, if set, is read by Launch for the duration of the
	// call; every value received is forwarded to the CancelController
	// as one SIGINT delivery (spec §4.8's two-stage escalation). The
	// caller owns the channel's lifetime (e.g. signal.Notify) and
	// should not close it while Launch is running.
	Interrupts <-chan os.Signal

	Debugger debugger.Channel
	Notify   *notify.Broker

	// Message is the Launch Message Builder input; Launch derives the
	// shared CommonPayload and the per-node request array from it
	// (spec §2 composition step 1), so callers never build
	// *rpc.LaunchTasksRequest values by hand.
	Message launchmsg.Options
}

// Result is Launch's outcome: the process exit code per spec §7 and
// the JobState it terminated in.
type Result struct {
	ExitCode int
	JobState types.JobState
}

// Launch runs one parallel task launch to completion: builds the
// per-node requests from s and opts.Message, spawns the Message
// Handler helper, dispatches the Worker Pool, and blocks until the
// job reaches a terminal state.
func Launch(ctx context.Context, s *step.Step, opts Options) (*Result, error) {
	tracker := state.NewTracker(s.NodeCount(), s.TotalTasks(),
		state.WithOneTaskPerNode(opts.Message.OneTaskPerNode),
		state.WithKillOnBadExit(opts.KillOnBadExit),
		state.WithCancelCallback(opts.BroadcastSignal),
	)
	cancelCtl := NewCancelController(tracker, opts.BroadcastSignal)

	stopInterruptRelay := make(chan struct{})
	defer close(stopInterruptRelay)
	if opts.Interrupts != nil {
		go func() {
			for {
				select {
				case _, ok := <-opts.Interrupts:
					if !ok {
						return
					}
					cancelCtl.Signal()
				case <-stopInterruptRelay:
					return
				}
			}
		}()
	}

	common := launchmsg.NewCommonPayload(s, opts.Message)
	reqs := launchmsg.BuildAll(s, common, opts.Message)

	nodeTaskIDs := make(map[int][]int, s.NodeCount())
	authorizedUIDs := []uint32{0, opts.SlurmUserUID, opts.CallerUID}
	for i := 0; i < s.NodeCount(); i++ {
		_, taskIDs, _, _, _ := s.LayoutOf(i)
		nodeTaskIDs[i] = taskIDs
	}

	socketDir := opts.SocketDir
	if socketDir == "" {
		socketDir = os.TempDir()
	}
	socketPath := filepath.Join(socketDir, fmt.Sprintf("tasklaunch-%d.%d.sock", s.JobID, s.StepID))
	configPath := filepath.Join(socketDir, fmt.Sprintf("tasklaunch-%d.%d.gob", s.JobID, s.StepID))
	if err := msghandler.WriteHelperConfig(configPath, msghandler.HelperConfig{
		NodeTaskIDs:           nodeTaskIDs,
		TotalTasks:            s.TotalTasks(),
		ToleratesNodeFailures: opts.ToleratesNodeFailures,
		AuthorizedUIDs:        authorizedUIDs,
	}); err != nil {
		return nil, launcherr.Fatal("write_helper_config", err)
	}
	defer os.Remove(configPath)

	reader, writer, err := eventpipe.NewPipe()
	if err != nil {
		return nil, launcherr.Fatal("create_event_pipe", err)
	}

	execPath := opts.ExecPath
	if execPath == "" {
		if execPath, err = os.Executable(); err != nil {
			return nil, launcherr.Fatal("resolve_exec_path", err)
		}
	}

	cmd, err := msghandler.Spawn(msghandler.SpawnOptions{
		ExecPath:   execPath,
		SocketPath: socketPath,
		ConfigPath: configPath,
		PipeWrite:  writer.File(),
	})
	if err != nil {
		return nil, launcherr.Fatal("spawn_helper", err)
	}
	writer.Close() // the child holds the only remaining write end

	consumeDone := make(chan []types.ProcTableEntry, 1)
	go func() {
		consumeDone <- ConsumeEvents(reader, tracker, opts.Debugger, opts.Notify)
	}()

	var launchDeadline *time.Timer
	if opts.MaxLaunchTime > 0 {
		launchDeadline = time.AfterFunc(opts.MaxLaunchTime, func() {
			if tracker.Job() == types.JobLaunching {
				tracker.SetJob(types.JobFailed)
			}
		})
		defer launchDeadline.Stop()
	}

	launchFailureExceeded := runDispatch(ctx, s, reqs, tracker, cancelCtl, opts)
	cancelCtl.FinalizeIfCancelled()

	if tracker.Job() == types.JobLaunching {
		tracker.SetJob(types.JobStarting)
	}

	final := tracker.WaitTerminal()

	if cmd != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	<-consumeDone
	_ = reader.Close()

	return &Result{ExitCode: computeExitCode(tracker, final, launchFailureExceeded), JobState: final}, nil
}

// runDispatch hands the request array to the Worker Pool, running
// each node through the Per-Node Launch Worker algorithm, and applies
// spec §7's NodeUnreachable force-kill rule. It returns whether a
// launch-request failure exceeded the allowed failure budget while
// the job was still in LAUNCHING, the condition spec §7 reserves exit
// code 124 for.
func runDispatch(ctx context.Context, s *step.Step, reqs []*rpc.LaunchTasksRequest, tracker *state.Tracker, cancelCtl *CancelController, opts Options) bool {
	p := pool.New(opts.MaxThreads, opts.Config)
	logger := log.WithComponent("launcher")

	dial := func(ctx context.Context, index int) (rpc.SlurmdLaunchClient, error) {
		return opts.Dial(ctx, s.NodeHost(index))
	}

	launchFailureExceeded := false

	p.Dispatch(ctx, len(reqs),
		func() types.JobState { return tracker.Job() },
		cancelCtl.Cancelled,
		func(index int) {
			_, taskIDs, _, _, _ := s.LayoutOf(index)
			tracker.SetHost(index, types.HostUnreachable)
			tracker.FailTasks(taskIDs)
			metrics.NodesUnreachableTotal.Inc()
		},
		func(ctx context.Context, index int) error {
			_, taskIDs, _, _, _ := s.LayoutOf(index)
			outcome := launchworker.Run(ctx, tracker, opts.Config, index, taskIDs, reqs[index], dial, cancelCtl.Cancelled)
			if outcome.Slot != types.SlotFailed {
				return nil
			}
			if outcome.Reason == "INTERRUPTED" {
				return fmt.Errorf("interrupted")
			}
			if tracker.Job() == types.JobLaunching && !opts.NoKill {
				logger.Error().Int("node_index", index).Msg("node unreachable during launch, force-killing step")
				launchFailureExceeded = true
				if opts.BroadcastSignal != nil {
					opts.BroadcastSignal()
				}
				tracker.SetJob(types.JobFailed)
			}
			return fmt.Errorf(outcome.Reason)
		},
	)

	return launchFailureExceeded
}

// computeExitCode applies spec §7's process exit-code rule: 128+sig
// if the dominant terminal reason was a signal, otherwise the maximum
// task exit code, with 124 reserved for launch-request failures that
// exceeded the allowed failure budget while still LAUNCHING.
func computeExitCode(tracker *state.Tracker, final types.JobState, launchFailureExceeded bool) int {
	if final == types.JobFailed && launchFailureExceeded {
		return 124
	}
	return tracker.ExitCode()
}
