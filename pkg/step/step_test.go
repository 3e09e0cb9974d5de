package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBlockHappyPath(t *testing.T) {
	alloc := Allocation{NodeList: []string{"A", "B", "C"}, CPUsPerNode: []int{2, 2, 2}}
	s, err := Create(1, 1, alloc, 6, Block, 0, false, []byte("cred"), []byte("switch"), 20000, 21000)
	require.NoError(t, err)

	assert.Equal(t, 3, s.NodeCount())
	assert.Equal(t, 6, s.TotalTasks())

	for i, want := range [][]int{{0, 1}, {2, 3}, {4, 5}} {
		tc, ids, cpus, _, _ := s.LayoutOf(i)
		assert.Equal(t, 2, tc)
		assert.Equal(t, want, ids)
		assert.Equal(t, 2, cpus)
	}
}

func TestCreateBlockExceedsCapacity(t *testing.T) {
	alloc := Allocation{NodeList: []string{"A"}, CPUsPerNode: []int{1}}
	_, err := Create(1, 1, alloc, 4, Block, 0, false, nil, nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestCreateCyclicAssignsModulo(t *testing.T) {
	alloc := Allocation{NodeList: []string{"A", "B", "C"}, CPUsPerNode: []int{4, 4, 4}}
	s, err := Create(1, 1, alloc, 7, Cyclic, 0, false, nil, nil, 0, 0)
	require.NoError(t, err)

	// task k -> node k mod 3: counts are 3,2,2
	tc0, _, _, _, _ := s.LayoutOf(0)
	tc1, _, _, _, _ := s.LayoutOf(1)
	tc2, _, _, _, _ := s.LayoutOf(2)
	assert.Equal(t, 3, tc0)
	assert.Equal(t, 2, tc1)
	assert.Equal(t, 2, tc2)
}

func TestCreateArbitraryHonorsNodeListVerbatim(t *testing.T) {
	alloc := Allocation{
		NodeList:       []string{"A", "B", "C"},
		CPUsPerNode:    []int{4, 4, 4},
		ArbitraryNodes: []string{"C", "A", "C", "A", "A"},
	}
	s, err := Create(1, 1, alloc, 5, Arbitrary, 0, false, nil, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, s.NodeCount())
	assert.Equal(t, "C", s.NodeHost(0))
	assert.Equal(t, "A", s.NodeHost(1))
	tcC, _, _, _, _ := s.LayoutOf(0)
	tcA, _, _, _, _ := s.LayoutOf(1)
	assert.Equal(t, 2, tcC)
	assert.Equal(t, 3, tcA)
}

func TestCreateArbitraryWithoutNodeListIsInvalid(t *testing.T) {
	alloc := Allocation{NodeList: []string{"A"}, CPUsPerNode: []int{1}}
	_, err := Create(1, 1, alloc, 1, Arbitrary, 0, false, nil, nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestPlaneDistributesBlocksCyclically(t *testing.T) {
	alloc := Allocation{NodeList: []string{"A", "B"}, CPUsPerNode: []int{8, 8}}
	s, err := Create(1, 1, alloc, 6, Plane, 2, true, nil, nil, 0, 0)
	require.NoError(t, err)
	tcA, _, _, _, _ := s.LayoutOf(0)
	tcB, _, _, _, _ := s.LayoutOf(1)
	assert.Equal(t, 3, tcA)
	assert.Equal(t, 3, tcB)
}

func TestExpandCPURepsExpandsRuns(t *testing.T) {
	out := ExpandCPUReps([]int32{4, 2}, []int32{3, 1})
	assert.Equal(t, []int{4, 4, 4, 2}, out)
}

func TestValidateCatchesTaskIDSetSizeMismatch(t *testing.T) {
	s := &Step{
		nodeList:      []string{"A"},
		taskCount:     []int{2},
		globalTaskIDs: [][]int{{0}},
		cpusPerNode:   []int{2},
		totalTasks:    2,
	}
	assert.ErrorIs(t, s.Validate(), ErrInvalidLayout)
}
