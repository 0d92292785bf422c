package dag

import (
	"testing"

	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dep(parent, child uint) *model.Dependency {
	return &model.Dependency{ParentJobID: parent, JobID: child}
}

func TestBuildGraph(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2, 3}, []*model.Dependency{dep(1, 2), dep(2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 3, g.NodeCount())
	assert.NoError(t, g.Validate())
}

func TestBuildGraphSelfLoop(t *testing.T) {
	_, err := BuildGraph([]uint{1}, []*model.Dependency{dep(1, 1)})
	assert.Error(t, err)
}

func TestBuildGraphUnknownNode(t *testing.T) {
	_, err := BuildGraph([]uint{1, 2}, []*model.Dependency{dep(1, 99)})
	assert.Error(t, err)
}

func TestValidateCycle(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2, 3}, []*model.Dependency{dep(1, 2), dep(2, 3), dep(3, 1)})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Validate(), ErrCycleDetected)
	assert.True(t, g.HasCycle())
}

func TestValidateDiamond(t *testing.T) {
	//菱形依赖不是环
	g, err := BuildGraph([]uint{1, 2, 3, 4},
		[]*model.Dependency{dep(1, 2), dep(1, 3), dep(2, 4), dep(3, 4)})
	require.NoError(t, err)
	assert.NoError(t, g.Validate())
	assert.ElementsMatch(t, []uint{1}, g.Roots())
	assert.ElementsMatch(t, []uint{2, 3}, g.Parents(4))
}

func TestTopologicalSort(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2, 3, 4},
		[]*model.Dependency{dep(1, 2), dep(1, 3), dep(2, 4), dep(3, 4)})
	require.NoError(t, err)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[uint]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[1], pos[2])
	assert.Less(t, pos[1], pos[3])
	assert.Less(t, pos[2], pos[4])
	assert.Less(t, pos[3], pos[4])
}

func TestTopologicalSortCycle(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2}, []*model.Dependency{dep(1, 2), dep(2, 1)})
	require.NoError(t, err)
	_, err = g.TopologicalSort()
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestValidateSingleInsert(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2, 3}, []*model.Dependency{dep(1, 2), dep(2, 3)})
	require.NoError(t, err)

	//1->2->3已存在，再加3->1成环
	assert.ErrorIs(t, g.ValidateSingleInsert(dep(3, 1)), ErrCycleDetected)
	//加1->3只是加了条捷径，不成环
	assert.NoError(t, g.ValidateSingleInsert(dep(1, 3)))
	//自环
	assert.ErrorIs(t, g.ValidateSingleInsert(dep(2, 2)), ErrCycleDetected)
	//未知节点
	assert.Error(t, g.ValidateSingleInsert(dep(1, 99)))
}

func TestDescendants(t *testing.T) {
	g, err := BuildGraph([]uint{1, 2, 3, 4, 5},
		[]*model.Dependency{dep(1, 2), dep(2, 3), dep(2, 4)})
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint{2, 3, 4}, g.Descendants(1))
	assert.ElementsMatch(t, []uint{3, 4}, g.Descendants(2))
	assert.Empty(t, g.Descendants(5))
}

func TestMaxNodes(t *testing.T) {
	ids := make([]uint, MaxNodes+1)
	for i := range ids {
		ids[i] = uint(i + 1)
	}
	_, err := BuildGraph(ids, nil)
	assert.Error(t, err)
}
