package step

import "fmt"

// Builder constructs a Step, mirroring the teacher's
// construction-by-struct-literal convention (types.Node, types.Service
// are built as literals, not via functional options).
type Builder struct {
	JobID         uint32
	StepID        uint32
	Allocation    Allocation
	TaskCount     int
	Policy        Distribution
	PlaneSize     int
	PlaneLow      bool
	Credential    []byte
	SwitchContext []byte
	RespPortBase  int
	IOPortBase    int
}

// Build runs Create with the Builder's fields.
func (b Builder) Build() (*Step, error) {
	return Create(b.JobID, b.StepID, b.Allocation, b.TaskCount, b.Policy, b.PlaneSize, b.PlaneLow, b.Credential, b.SwitchContext, b.RespPortBase, b.IOPortBase)
}

// Create computes the per-node layout and returns an immutable Step,
// or ErrInvalidLayout when the request cannot be satisfied.
func Create(jobID, stepID uint32, alloc Allocation, taskCount int, policy Distribution, planeSize int, planeLow bool, credential, switchContext []byte, respPortBase, ioPortBase int) (*Step, error) {
	if taskCount < 0 {
		return nil, fmt.Errorf("%w: negative task count", ErrInvalidLayout)
	}

	var nodeList []string
	var cpusPerNode []int
	var perNode []int

	switch policy {
	case Arbitrary:
		if len(alloc.ArbitraryNodes) == 0 {
			return nil, fmt.Errorf("%w: arbitrary distribution requires an explicit node list", ErrInvalidLayout)
		}
		nodeList, perNode = arbitraryCounts(alloc.ArbitraryNodes)
		cpusPerNode = make([]int, len(nodeList))
		for i, n := range nodeList {
			idx := indexOf(alloc.NodeList, n)
			if idx < 0 {
				return nil, fmt.Errorf("%w: arbitrary node %q not in allocation", ErrInvalidLayout, n)
			}
			cpusPerNode[i] = alloc.CPUsPerNode[idx]
		}
		sum := 0
		for _, c := range perNode {
			sum += c
		}
		if sum != taskCount {
			return nil, fmt.Errorf("%w: arbitrary node list assigns %d tasks, want %d", ErrInvalidLayout, sum, taskCount)
		}
	default:
		if len(alloc.NodeList) != len(alloc.CPUsPerNode) {
			return nil, fmt.Errorf("%w: allocation node list and cpu counts differ in length", ErrInvalidLayout)
		}
		if len(alloc.NodeList) == 0 {
			return nil, fmt.Errorf("%w: empty allocation", ErrInvalidLayout)
		}
		nodeList = append([]string(nil), alloc.NodeList...)
		cpusPerNode = append([]int(nil), alloc.CPUsPerNode...)

		var err error
		switch policy {
		case Block:
			perNode, err = blockCounts(taskCount, cpusPerNode)
		case Cyclic:
			perNode = cyclicCounts(taskCount, len(nodeList))
		case Plane:
			if planeSize <= 0 {
				return nil, fmt.Errorf("%w: plane distribution requires a positive plane size", ErrInvalidLayout)
			}
			perNode = planeCounts(taskCount, len(nodeList), planeSize, planeLow)
		default:
			return nil, fmt.Errorf("%w: unknown distribution policy", ErrInvalidLayout)
		}
		if err != nil {
			return nil, err
		}
	}

	globalTaskIDs := make([][]int, len(nodeList))
	if policy == Cyclic {
		for i := range globalTaskIDs {
			globalTaskIDs[i] = make([]int, 0, perNode[i])
		}
		for k := 0; k < taskCount; k++ {
			globalTaskIDs[k%len(nodeList)] = append(globalTaskIDs[k%len(nodeList)], k)
		}
	} else {
		offset := 0
		for i, tc := range perNode {
			ids := make([]int, tc)
			for j := 0; j < tc; j++ {
				ids[j] = offset + j
			}
			globalTaskIDs[i] = ids
			offset += tc
		}
	}

	respPort := make([]int, len(nodeList))
	ioPort := make([]int, len(nodeList))
	for i := range nodeList {
		respPort[i] = respPortBase + i
		ioPort[i] = ioPortBase + i
	}

	s := &Step{
		JobID:         jobID,
		StepID:        stepID,
		nodeList:      nodeList,
		taskCount:     perNode,
		globalTaskIDs: globalTaskIDs,
		cpusPerNode:   cpusPerNode,
		respPort:      respPort,
		ioPort:        ioPort,
		credential:    credential,
		switchContext: switchContext,
		totalTasks:    taskCount,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// blockCounts assigns contiguous blocks of tasks to nodes
// proportional to each node's CPU share; ties break toward the lower
// node index. A non-overcommit policy: task count may not exceed
// aggregate CPU capacity.
func blockCounts(taskCount int, cpus []int) ([]int, error) {
	totalCPUs := 0
	for _, c := range cpus {
		totalCPUs += c
	}
	if taskCount > totalCPUs {
		return nil, fmt.Errorf("%w: %d tasks exceed aggregate capacity of %d cpus", ErrInvalidLayout, taskCount, totalCPUs)
	}
	n := len(cpus)
	counts := make([]int, n)
	if totalCPUs == 0 {
		return counts, nil
	}
	assigned := 0
	for i, c := range cpus {
		share := taskCount * c / totalCPUs
		counts[i] = share
		assigned += share
	}
	// Distribute the remainder, lowest node index first.
	remainder := taskCount - assigned
	for i := 0; i < n && remainder > 0; i++ {
		if counts[i] < cpus[i] {
			counts[i]++
			remainder--
		}
	}
	for i := 0; i < n && remainder > 0; i++ {
		counts[i]++
		remainder--
	}
	return counts, nil
}

// cyclicCounts round-robins tasks across nodes honoring input order:
// task k goes to node k mod N.
func cyclicCounts(taskCount, n int) []int {
	counts := make([]int, n)
	for k := 0; k < taskCount; k++ {
		counts[k%n]++
	}
	return counts
}

// planeCounts places blocks of planeSize tasks cyclically across
// nodes. planeLow controls whether a short final plane (fewer than
// planeSize remaining tasks) is padded toward the lowest-indexed node
// in that plane or the highest, per original_source's dist_tasks.c
// SLURM_DIST_PLANE orderings.
func planeCounts(taskCount, n, planeSize int, planeLow bool) []int {
	counts := make([]int, n)
	remaining := taskCount
	node := 0
	for remaining > 0 {
		take := planeSize
		if take > remaining {
			take = remaining
		}
		if take < planeSize && !planeLow {
			// Pad the short final plane toward the highest-indexed
			// node touched by it instead of starting at node 0.
			start := node
			end := start + take - 1
			for i := end; i >= start; i-- {
				counts[i%n]++
			}
		} else {
			for i := 0; i < take; i++ {
				counts[(node+i)%n]++
			}
		}
		remaining -= take
		node = (node + take) % n
	}
	return counts
}

// arbitraryCounts reduces a repeated node-name sequence to its
// distinct nodes (in first-occurrence order) and their occurrence
// counts.
func arbitraryCounts(nodes []string) (distinct []string, counts []int) {
	index := make(map[string]int)
	for _, n := range nodes {
		if i, ok := index[n]; ok {
			counts[i]++
			continue
		}
		index[n] = len(distinct)
		distinct = append(distinct, n)
		counts = append(counts, 1)
	}
	return distinct, counts
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// ExpandCPUReps expands the controller's run-length-encoded
// (cpus_per_node, cpu_count_reps) pair — the wire form an allocation
// response actually carries per original_source/.../allocate.c — into
// a flat per-node CPU slice suitable for Allocation.CPUsPerNode.
func ExpandCPUReps(cpusPerNode []int32, cpuCountReps []int32) []int {
	if len(cpusPerNode) != len(cpuCountReps) {
		return nil
	}
	var out []int
	for i, cpus := range cpusPerNode {
		for r := int32(0); r < cpuCountReps[i]; r++ {
			out = append(out, int(cpus))
		}
	}
	return out
}
