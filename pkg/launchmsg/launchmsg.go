// Package launchmsg builds the per-node LaunchTasksRequest array from
// a Step and a set of launch options, copying one common payload into
// every request (spec §4.2). The payload is not pre-encoded: each
// request is serialized on its own when it is sent.
package launchmsg

import (
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/step"
)

// Options mirrors the externally-supplied launch options of spec §6
// that bear on message construction.
type Options struct {
	UID, GID     uint32
	Argv         []string
	Env          []string
	Cwd          string
	ParallelDebug bool
	NoKill        bool
	TaskProlog    string
	TaskEpilog    string
	SlurmdDebug   int
	// OneTaskPerNode, when set by the MPI collaborator, coerces the
	// wire-visible TasksToLaunch to 1 per node without altering the
	// Step's internal layout (spec §4.2, §4.8 scenario 5).
	OneTaskPerNode bool
}

// CommonPayload is the immutable part of every request on this step:
// constructed once, and its fields (including the same Argv, Env,
// Credential and SwitchContext slices) are copied into each per-node
// request. No shared serialized form is kept; every request is
// encoded separately on the wire.
type CommonPayload struct {
	JobID, StepID uint32
	UID, GID      uint32
	Argv          []string
	Env           []string
	Cwd           string
	Credential    []byte
	SwitchContext []byte
	TaskFlags     rpc.TaskFlag
	TaskProlog    string
	TaskEpilog    string
	SlurmdDebug   int
}

// NewCommonPayload derives the shared payload from a Step and
// Options.
func NewCommonPayload(s *step.Step, opts Options) CommonPayload {
	var flags rpc.TaskFlag
	if opts.ParallelDebug {
		flags |= rpc.TaskFlagParallelDebug
	}
	if opts.NoKill {
		flags |= rpc.TaskFlagNoKill
	}
	return CommonPayload{
		JobID: s.JobID, StepID: s.StepID,
		UID: opts.UID, GID: opts.GID,
		Argv: opts.Argv, Env: opts.Env, Cwd: opts.Cwd,
		Credential:    s.Credential(),
		SwitchContext: s.SwitchContext(),
		TaskFlags:     flags,
		TaskProlog:    opts.TaskProlog,
		TaskEpilog:    opts.TaskEpilog,
		SlurmdDebug:   opts.SlurmdDebug,
	}
}

// BuildAll returns the full per-node request array for s; it is the
// single call site the Worker Pool dispatches from.
func BuildAll(s *step.Step, common CommonPayload, opts Options) []*rpc.LaunchTasksRequest {
	reqs := make([]*rpc.LaunchTasksRequest, s.NodeCount())
	for i := 0; i < s.NodeCount(); i++ {
		taskCount, taskIDs, cpus, respPort, ioPort := s.LayoutOf(i)
		reqs[i] = &rpc.LaunchTasksRequest{
			JobID: common.JobID, StepID: common.StepID,
			UID: common.UID, GID: common.GID,
			Argv: common.Argv, Cred: common.Credential,
			Env: common.Env, Cwd: common.Cwd,
			TasksToLaunch: taskCount,
			GlobalTaskIDs: taskIDs,
			CPUsAllocated: cpus,
			SrunNodeID:    i,
			IOPort:        ioPort,
			RespPort:      respPort,
			TaskFlags:     common.TaskFlags,
			SwitchContext: common.SwitchContext,
			TaskProlog:    common.TaskProlog,
			TaskEpilog:    common.TaskEpilog,
			SlurmdDebug:   common.SlurmdDebug,
		}
	}
	if opts.OneTaskPerNode {
		return coerceOneTaskPerNode(reqs)
	}
	return reqs
}

// coerceOneTaskPerNode rewrites the wire-visible TasksToLaunch to 1
// per node on a copy of each request; it never touches the Step's
// internal layout (spec §4.2, §4.8 scenario 5: Step's task_count
// remains unchanged, only the wire message is coerced).
func coerceOneTaskPerNode(reqs []*rpc.LaunchTasksRequest) []*rpc.LaunchTasksRequest {
	out := make([]*rpc.LaunchTasksRequest, len(reqs))
	for i, r := range reqs {
		cp := *r
		cp.TasksToLaunch = 1
		out[i] = &cp
	}
	return out
}
