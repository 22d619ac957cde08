package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphRejectsUnknownDependency(t *testing.T) {
	_, err := NewGraph(map[StageID][]StageID{
		"a": {"ghost"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestNewGraphRejectsSelfDependency(t *testing.T) {
	_, err := NewGraph(map[StageID][]StageID{
		"a": {"a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestNewGraphRejectsDuplicateDependency(t *testing.T) {
	_, err := NewGraph(map[StageID][]StageID{
		"a": nil,
		"b": {"a", "a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestNewGraphRejectsCycle(t *testing.T) {
	_, err := NewGraph(map[StageID][]StageID{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraphOrderRespectsDependencies(t *testing.T) {
	g, err := NewGraph(map[StageID][]StageID{
		"fetch":   nil,
		"process": {"fetch"},
		"store":   {"process"},
	})
	require.NoError(t, err)

	order := g.Order()
	pos := make(map[StageID]int, len(order))
	for i, stage := range order {
		pos[stage] = i
	}
	assert.Less(t, pos["fetch"], pos["process"])
	assert.Less(t, pos["process"], pos["store"])
}

func TestConversationGraphShape(t *testing.T) {
	g := conversationGraph()

	order := g.Order()
	require.Len(t, order, 6)

	pos := make(map[StageID]int, len(order))
	for i, stage := range order {
		pos[stage] = i
	}
	assert.Less(t, pos[StageRetrieveShort], pos[StageMerge])
	assert.Less(t, pos[StageRetrieveLong], pos[StageMerge])
	assert.Less(t, pos[StageMerge], pos[StageGenerate])
	assert.Less(t, pos[StageGenerate], pos[StagePersistShort])
	assert.Less(t, pos[StagePersistShort], pos[StageEmitEvent])

	assert.ElementsMatch(t,
		[]StageID{StageRetrieveShort, StageRetrieveLong},
		g.Dependencies(StageMerge),
	)
}

func TestWavesGroupDependencyLevels(t *testing.T) {
	waves := conversationGraph().Waves()

	require.Equal(t, [][]StageID{
		{StageRetrieveLong, StageRetrieveShort},
		{StageMerge},
		{StageGenerate},
		{StagePersistShort},
		{StageEmitEvent},
	}, waves)
}

func TestWavesDiamond(t *testing.T) {
	g, err := NewGraph(map[StageID][]StageID{
		"fetch":  nil,
		"left":   {"fetch"},
		"right":  {"fetch"},
		"reduce": {"left", "right"},
	})
	require.NoError(t, err)

	assert.Equal(t, [][]StageID{
		{"fetch"},
		{"left", "right"},
		{"reduce"},
	}, g.Waves())
}
