package launcher

import (
	"errors"
	"io"

	"github.com/cuemby/tasklaunch/pkg/debugger"
	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/notify"
	"github.com/cuemby/tasklaunch/pkg/state"
	"github.com/cuemby/tasklaunch/pkg/types"
)

// ConsumeEvents is the main process's pipe-reading loop (spec §4.5's
// "the main process consumes the pipe, updates its own view of
// node/task state, and condition-signals waiters"). It returns once
// the reader observes EOF (the helper has exited and closed its write
// end), having accumulated the process table the debugger
// collaborator needs.
func ConsumeEvents(reader *eventpipe.Reader, tracker *state.Tracker, dbg debugger.Channel, nb *notify.Broker) []types.ProcTableEntry {
	if dbg == nil {
		dbg = debugger.NoOp{}
	}
	var table []types.ProcTableEntry

	for {
		fr, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// A malformed frame is a protocol error (spec §7): logged
				// and dropped, the loop keeps draining rather than wedging
				// the main process's only path to EOF.
				log.WithComponent("launcher").Warn().Err(err).Msg("dropping malformed event pipe frame")
				continue
			}
			return table
		}

		switch fr.Tag {
		case eventpipe.TagHostState:
			tracker.SetHost(fr.NodeIndex, fr.Host)
			publish(nb, notify.Change{Kind: notify.ChangeHost, NodeIndex: fr.NodeIndex, Host: fr.Host})
			if fr.Host == types.HostReplied {
				// First successful launch response promotes the job to
				// RUNNING (spec §4.8). SetJob's monotone Advances check
				// makes this a no-op once the job has moved past RUNNING
				// or reached a terminal state.
				tracker.SetJob(types.JobRunning)
			}

		case eventpipe.TagTaskState:
			tracker.SetTask(fr.TaskID, fr.Task)
			publish(nb, notify.Change{Kind: notify.ChangeTask, TaskID: fr.TaskID, Task: fr.Task})

		case eventpipe.TagTaskExit:
			tracker.RecordExit(fr.TaskID, fr.Code, tracker.Task(fr.TaskID))

		case eventpipe.TagJobState:
			tracker.SetJob(fr.Job)
			publish(nb, notify.Change{Kind: notify.ChangeJob, Job: fr.Job})

		case eventpipe.TagProcDesc:
			table = append(table, types.ProcTableEntry{
				TaskID:         fr.TaskID,
				NodeIndex:      fr.NodeIndex,
				HostName:       fr.HostName,
				ExecutableName: fr.ExecName,
				PID:            fr.PID,
			})

		case eventpipe.TagDebugState:
			if fr.Debug == types.DebugSpawned {
				dbg.PublishProcTable(table)
			}
			dbg.SetState(fr.Debug)

		case eventpipe.TagSignalAck, eventpipe.TagProcTableSize:
			// Observational only; no tracker state corresponds to these.
		}
	}
}

func publish(nb *notify.Broker, c notify.Change) {
	if nb != nil {
		nb.Publish(c)
	}
}
