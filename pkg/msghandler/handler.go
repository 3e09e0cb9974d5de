// Package msghandler implements the Message Handler forked helper
// (spec §4.6): the listening endpoint slurmd peers connect back to,
// translating accepted replies into Event Pipe frames. The "forked"
// isolation is rendered as Go's idiomatic self-reexec pattern (see
// helper.go) rather than cgo fork(), per DESIGN.md's note on spec
// §9's "keep the two-process split".
package msghandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/launcherr"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/metrics"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/peer"
)

// Config parameterizes a Handler with the step layout and security
// context it needs but cannot learn from the pipe (the pipe is
// one-way, main process to helper is the wrong direction).
type Config struct {
	// NodeTaskIDs maps a node's SrunNodeID to the global task ids
	// assigned to it, known from the Step at spawn time.
	NodeTaskIDs map[int][]int
	TotalTasks  int

	// ToleratesNodeFailures selects the node-failure pass-through path
	// versus the JOB_STATE(FORCETERM) + broadcast-SIGINT path.
	ToleratesNodeFailures bool

	// AuthorizedUIDs is the set of uids the helper accepts callbacks
	// from: the slurm-user uid, root (0), and the caller's own uid.
	AuthorizedUIDs map[uint32]bool

	// OnForceTerm is invoked when an intolerable node failure arrives,
	// letting pkg/launcher broadcast SIGINT to remaining tasks.
	OnForceTerm func()
}

// Handler implements rpc.SlurmdCallbackServer, writing the Event Pipe
// frames for every accepted call before returning: several frames for
// launch/reattach responses and task-exit batches, one for an
// intolerable node failure, and none for the controller-ping,
// timeout-warning and tolerated node-failure paths.
type Handler struct {
	mu   sync.Mutex
	cfg  Config
	pipe *eventpipe.Writer

	nodeTaskIDs    map[int][]int
	procDescCount  int
	exitedCount    int
	warnedDeadline map[int]bool

	lastControllerContact time.Time
	logger                zerolog.Logger
}

// New constructs a Handler writing translated frames onto pipe.
func New(pipe *eventpipe.Writer, cfg Config) *Handler {
	nodeTaskIDs := make(map[int][]int, len(cfg.NodeTaskIDs))
	for k, v := range cfg.NodeTaskIDs {
		nodeTaskIDs[k] = v
	}
	return &Handler{
		cfg:            cfg,
		pipe:           pipe,
		nodeTaskIDs:    nodeTaskIDs,
		warnedDeadline: make(map[int]bool),
		logger:         log.WithComponent("msghandler"),
	}
}

// authorize validates the RPC's peer uid against the authorized set,
// dropping mismatches with an audit log entry per spec §4.6.
func (h *Handler) authorize(ctx context.Context, op string) error {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return launcherr.Auth(op, fmt.Errorf("no peer credentials on connection"))
	}
	info, ok := p.AuthInfo.(peerCredAuthInfo)
	if !ok {
		return launcherr.Auth(op, fmt.Errorf("unexpected auth info type %T", p.AuthInfo))
	}
	if !h.cfg.AuthorizedUIDs[info.UID] {
		traceID := uuid.NewString()
		h.logger.Warn().Uint32("uid", info.UID).Str("op", op).Str("trace_id", traceID).Msg("rejected callback from unauthorized uid")
		return launcherr.Auth(op, fmt.Errorf("uid %d not authorized (trace %s)", info.UID, traceID))
	}
	return nil
}

func (h *Handler) write(fr eventpipe.Frame) {
	if err := h.pipe.WriteFrame(fr); err != nil {
		h.logger.Error().Err(err).Msg("event pipe write failed")
		return
	}
	metrics.EventPipeFramesTotal.WithLabelValues(tagName(fr.Tag)).Inc()
}

func tagName(t eventpipe.Tag) string {
	switch t {
	case eventpipe.TagHostState:
		return "host_state"
	case eventpipe.TagTaskState:
		return "task_state"
	case eventpipe.TagTaskExit:
		return "task_exit"
	case eventpipe.TagJobState:
		return "job_state"
	case eventpipe.TagSignalAck:
		return "signal_ack"
	case eventpipe.TagProcTableSize:
		return "proc_table_size"
	case eventpipe.TagProcDesc:
		return "proc_desc"
	case eventpipe.TagDebugState:
		return "debug_state"
	default:
		return "unknown"
	}
}

// DeliverLaunchResponse implements the first two rows of spec §4.6's
// protocol table: a successful reply moves every task on the node
// PENDING -> RUNNING (TASK_STATE, one per task) alongside its PROC_DESC,
// so exits arriving later in DeliverTaskExit have a RUNNING task to
// transition out of.
func (h *Handler) DeliverLaunchResponse(ctx context.Context, resp *rpc.LaunchTasksResponse) (*rpc.Ack, error) {
	if err := h.authorize(ctx, "DeliverLaunchResponse"); err != nil {
		return nil, err
	}

	h.write(eventpipe.Frame{Tag: eventpipe.TagHostState, NodeIndex: resp.SrunNodeID, Host: types.HostReplied})

	h.mu.Lock()
	taskIDs := h.nodeTaskIDs[resp.SrunNodeID]
	h.mu.Unlock()

	if resp.ReturnCode == 0 {
		for i, pid := range resp.LocalPIDs {
			tid := -1
			if i < len(taskIDs) {
				tid = taskIDs[i]
			}
			h.write(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: tid, Task: types.TaskRunning})
			h.write(eventpipe.Frame{Tag: eventpipe.TagProcDesc, TaskID: tid, NodeIndex: resp.SrunNodeID, PID: pid, HostName: resp.NodeName})
		}
		h.mu.Lock()
		h.procDescCount += len(resp.LocalPIDs)
		spawned := h.procDescCount >= h.cfg.TotalTasks
		h.mu.Unlock()
		if spawned {
			h.write(eventpipe.Frame{Tag: eventpipe.TagDebugState, Debug: types.DebugSpawned})
		}
		return &rpc.Ack{}, nil
	}

	for _, tid := range taskIDs {
		h.write(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: tid, Task: types.TaskFailed})
	}
	h.write(eventpipe.Frame{Tag: eventpipe.TagDebugState, Debug: types.DebugAborting})
	return &rpc.Ack{}, nil
}

// DeliverReattachResponse behaves as DeliverLaunchResponse, plus
// learns the node's task layout from the reattach reply.
func (h *Handler) DeliverReattachResponse(ctx context.Context, resp *rpc.ReattachTasksResponse) (*rpc.Ack, error) {
	if err := h.authorize(ctx, "DeliverReattachResponse"); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if len(resp.GTIDs) > 0 {
		h.nodeTaskIDs[resp.SrunNodeID] = resp.GTIDs
	}
	taskIDs := h.nodeTaskIDs[resp.SrunNodeID]
	h.mu.Unlock()

	h.write(eventpipe.Frame{Tag: eventpipe.TagHostState, NodeIndex: resp.SrunNodeID, Host: types.HostReplied})

	if resp.ReturnCode == 0 {
		for i, pid := range resp.LocalPIDs {
			tid := -1
			if i < len(taskIDs) {
				tid = taskIDs[i]
			}
			h.write(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: tid, Task: types.TaskRunning})
			h.write(eventpipe.Frame{Tag: eventpipe.TagProcDesc, TaskID: tid, NodeIndex: resp.SrunNodeID, PID: pid, HostName: resp.NodeName, ExecName: resp.ExecutableName})
		}
		h.mu.Lock()
		h.procDescCount += len(resp.LocalPIDs)
		spawned := h.procDescCount >= h.cfg.TotalTasks
		h.mu.Unlock()
		if spawned {
			h.write(eventpipe.Frame{Tag: eventpipe.TagDebugState, Debug: types.DebugSpawned})
		}
		return &rpc.Ack{}, nil
	}

	for _, tid := range taskIDs {
		h.write(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: tid, Task: types.TaskFailed})
	}
	h.write(eventpipe.Frame{Tag: eventpipe.TagDebugState, Debug: types.DebugAborting})
	return &rpc.Ack{}, nil
}

// DeliverTaskExit implements the task-exit-batch row: per-task
// TASK_STATE/TASK_EXIT frames, plus JOB_STATE(TERMINATED) once every
// task has exited.
func (h *Handler) DeliverTaskExit(ctx context.Context, exit *rpc.TaskExit) (*rpc.Ack, error) {
	if err := h.authorize(ctx, "DeliverTaskExit"); err != nil {
		return nil, err
	}

	code, signaled, signum := rpc.DecodeSignalExit(exit.ReturnCode)
	state := types.TaskExited
	if signaled || code != 0 {
		state = types.TaskAbnormalExit
	}

	for _, tid := range exit.TaskIDList {
		h.write(eventpipe.Frame{Tag: eventpipe.TagTaskState, TaskID: tid, Task: state})
		h.write(eventpipe.Frame{Tag: eventpipe.TagTaskExit, TaskID: tid, Code: exit.ReturnCode, SigNum: signum})
	}

	h.mu.Lock()
	h.exitedCount += len(exit.TaskIDList)
	allExited := h.exitedCount >= h.cfg.TotalTasks
	h.mu.Unlock()

	if allExited {
		h.write(eventpipe.Frame{Tag: eventpipe.TagJobState, Job: types.JobTerminated})
	}
	return &rpc.Ack{}, nil
}

// DeliverPing answers the controller's liveness probe inline and
// emits no Event Pipe frame, per spec §4.6. Supplemented from
// original_source's _confirm_launch_complete bookkeeping: it updates
// lastControllerContact so a liveness probe can observe staleness.
func (h *Handler) DeliverPing(ctx context.Context, ping *rpc.Ping) (*rpc.PingReply, error) {
	if err := h.authorize(ctx, "DeliverPing"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.lastControllerContact = time.Now()
	h.mu.Unlock()
	return &rpc.PingReply{ReturnCode: 0}, nil
}

// LastControllerContact reports the last time DeliverPing was
// accepted, zero if none yet.
func (h *Handler) LastControllerContact() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastControllerContact
}

// DeliverTimeout logs once per unique deadline and emits no frame.
// The announced deadline is not tracked further: neither the helper
// nor pkg/launcher acts when it elapses.
func (h *Handler) DeliverTimeout(ctx context.Context, timeout *rpc.Timeout) (*rpc.Ack, error) {
	if err := h.authorize(ctx, "DeliverTimeout"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	already := h.warnedDeadline[timeout.TimeoutSeconds]
	h.warnedDeadline[timeout.TimeoutSeconds] = true
	h.mu.Unlock()
	if !already {
		h.logger.Warn().Int("timeout_seconds", timeout.TimeoutSeconds).Msg("controller timeout warning")
	}
	return &rpc.Ack{}, nil
}

// DeliverNodeFail implements the node-failure row: pass-through when
// the step tolerates node failures, otherwise a hard
// JOB_STATE(FORCETERM) plus the caller's broadcast-SIGINT hook.
func (h *Handler) DeliverNodeFail(ctx context.Context, fail *rpc.NodeFail) (*rpc.Ack, error) {
	if err := h.authorize(ctx, "DeliverNodeFail"); err != nil {
		return nil, err
	}
	if h.cfg.ToleratesNodeFailures {
		h.logger.Info().Strs("nodes", fail.NodeList).Msg("node failure tolerated, passing through")
		return &rpc.Ack{}, nil
	}
	h.write(eventpipe.Frame{Tag: eventpipe.TagJobState, Job: types.JobForceTerm})
	if h.cfg.OnForceTerm != nil {
		h.cfg.OnForceTerm()
	}
	return &rpc.Ack{}, nil
}
