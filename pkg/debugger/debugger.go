// Package debugger formalizes spec §6/§9's re-architecture of the
// source's "TotalView hack" (MPIR_proctable, MPIR_debug_state
// globals) into an opaque collaborator interface: pkg/msghandler's
// PROC_DESC/DEBUG_STATE frames drive it exclusively through this
// interface, and nothing else in the module reads or writes
// MPIR-style globals.
package debugger

import "github.com/cuemby/tasklaunch/pkg/types"

// Channel is set by the core and read by a debugger collaborator
// (e.g. TotalView, a test observer). PublishProcTable is called once
// per launch with the complete process table; SetState announces
// SPAWNED or ABORTING.
type Channel interface {
	PublishProcTable(entries []types.ProcTableEntry)
	SetState(state types.DebugState)
}

// NoOp is the nil-safe default used when Options.Debugger is unset.
type NoOp struct{}

func (NoOp) PublishProcTable([]types.ProcTableEntry) {}
func (NoOp) SetState(types.DebugState)               {}
