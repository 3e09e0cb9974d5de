// Package step computes the immutable per-node task layout for a
// launch: given an allocation (ordered node list with per-node CPU
// counts) and a distribution policy, it produces the Step record that
// every other package in this module treats as read-only after
// construction.
package step

import (
	"errors"
	"fmt"
)

// ErrInvalidLayout is returned by Create when the requested task
// count cannot be satisfied by the allocation under the chosen
// policy, or the policy's preconditions are not met.
var ErrInvalidLayout = errors.New("invalid layout")

// Distribution selects how tasks are assigned to nodes.
type Distribution int

const (
	// Block assigns contiguous ranges of tasks to nodes, proportional
	// to each node's CPU share; ties break toward the lower node index.
	Block Distribution = iota
	// Cyclic round-robins tasks across nodes in input order.
	Cyclic
	// Arbitrary honors a user-supplied ordered node list verbatim;
	// task_count[i] is the number of times node i appears in it.
	Arbitrary
	// Plane places blocks of PlaneSize tasks cyclically across nodes.
	Plane
)

// Allocation is the external collaborator's grant: an ordered node
// list with per-node CPU counts, as extracted from the controller's
// allocation response.
type Allocation struct {
	NodeList     []string
	CPUsPerNode  []int
	// ArbitraryNodes, when Distribution is Arbitrary, is the raw
	// repeated node-name sequence the caller supplied; its counts per
	// distinct node determine task_count.
	ArbitraryNodes []string
}

// Step is the immutable record keyed by (JobID, StepID). All slice
// fields are owned by the Step and must not be mutated by callers
// after Create/Builder.Build returns.
type Step struct {
	JobID  uint32
	StepID uint32

	nodeList      []string
	taskCount     []int
	globalTaskIDs [][]int
	cpusPerNode   []int
	respPort      []int
	ioPort        []int

	credential    []byte
	switchContext []byte

	totalTasks int
}

// NodeList returns the ordered allocated node names.
func (s *Step) NodeList() []string { return append([]string(nil), s.nodeList...) }

// NodeCount returns the number of allocated nodes.
func (s *Step) NodeCount() int { return len(s.nodeList) }

// TotalTasks returns the step's total task count.
func (s *Step) TotalTasks() int { return s.totalTasks }

// Credential returns the opaque signed credential bytes. The core
// never inspects or forges this value.
func (s *Step) Credential() []byte { return s.credential }

// SwitchContext returns the opaque switch-plugin context bytes.
func (s *Step) SwitchContext() []byte { return s.switchContext }

// NodeHost returns the node name at index i.
func (s *Step) NodeHost(i int) string { return s.nodeList[i] }

// LayoutOf returns node i's derived fields: task count, its global
// task ids, its CPU count, and its response/IO ports.
func (s *Step) LayoutOf(i int) (taskCount int, taskIDs []int, cpus int, respPort int, ioPort int) {
	return s.taskCount[i], append([]int(nil), s.globalTaskIDs[i]...), s.cpusPerNode[i], s.respPort[i], s.ioPort[i]
}

// Validate re-checks the Step's documented invariants; Create always
// returns a Step that passes this, and it is exported so tests can
// check a hand-built Step.
func (s *Step) Validate() error {
	n := len(s.nodeList)
	if len(s.taskCount) != n || len(s.cpusPerNode) != n || len(s.globalTaskIDs) != n {
		return fmt.Errorf("%w: mismatched per-node slice lengths", ErrInvalidLayout)
	}
	sum := 0
	seen := make(map[int]bool, s.totalTasks)
	for i, tc := range s.taskCount {
		sum += tc
		if len(s.globalTaskIDs[i]) != tc {
			return fmt.Errorf("%w: node %d task id set size %d != task_count %d", ErrInvalidLayout, i, len(s.globalTaskIDs[i]), tc)
		}
		for _, id := range s.globalTaskIDs[i] {
			if seen[id] {
				return fmt.Errorf("%w: task id %d assigned twice", ErrInvalidLayout, id)
			}
			seen[id] = true
		}
	}
	if sum != s.totalTasks {
		return fmt.Errorf("%w: sum(task_count)=%d != total_tasks=%d", ErrInvalidLayout, sum, s.totalTasks)
	}
	for id := 0; id < s.totalTasks; id++ {
		if !seen[id] {
			return fmt.Errorf("%w: task id %d not covered", ErrInvalidLayout, id)
		}
	}
	return nil
}
