package engine

import (
	"fmt"
)

// StageID names one node of the workflow graph.
type StageID string

const (
	StageRetrieveShort StageID = "retrieve_short"
	StageRetrieveLong  StageID = "retrieve_long"
	StageMerge         StageID = "merge"
	StageGenerate      StageID = "generate"
	StagePersistShort  StageID = "persist_short"
	StageEmitEvent     StageID = "emit_event"
)

// Graph is a validated DAG over stage ids. Order holds a topological
// ordering computed at construction.
type Graph struct {
	deps  map[StageID][]StageID
	order []StageID
}

// NewGraph validates the dependency map and computes a topological
// order. Unknown dependencies, duplicate edges, and cycles are rejected.
func NewGraph(deps map[StageID][]StageID) (*Graph, error) {
	for stage, stageDeps := range deps {
		seen := make(map[StageID]bool, len(stageDeps))
		for _, dep := range stageDeps {
			if _, ok := deps[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", stage, dep)
			}
			if dep == stage {
				return nil, fmt.Errorf("stage %q depends on itself", stage)
			}
			if seen[dep] {
				return nil, fmt.Errorf("stage %q lists dependency %q twice", stage, dep)
			}
			seen[dep] = true
		}
	}

	order, err := topoSort(deps)
	if err != nil {
		return nil, err
	}
	return &Graph{deps: deps, order: order}, nil
}

// Order returns the topological ordering.
func (g *Graph) Order() []StageID {
	return append([]StageID(nil), g.order...)
}

// Dependencies returns the direct dependencies of a stage.
func (g *Graph) Dependencies(stage StageID) []StageID {
	return append([]StageID(nil), g.deps[stage]...)
}

// Waves groups the topological order into dependency levels: every
// stage in a wave depends only on stages in earlier waves, so the
// stages of one wave can run concurrently. In-wave order follows the
// deterministic topological order.
func (g *Graph) Waves() [][]StageID {
	level := make(map[StageID]int, len(g.order))
	var waves [][]StageID
	for _, stage := range g.order {
		l := 0
		for _, dep := range g.deps[stage] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[stage] = l
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], stage)
	}
	return waves
}

// topoSort runs Kahn's algorithm with deterministic tie-breaking on the
// stage id, so Order is stable across runs.
func topoSort(deps map[StageID][]StageID) ([]StageID, error) {
	inDegree := make(map[StageID]int, len(deps))
	dependents := make(map[StageID][]StageID, len(deps))
	for stage, stageDeps := range deps {
		if _, ok := inDegree[stage]; !ok {
			inDegree[stage] = 0
		}
		for _, dep := range stageDeps {
			inDegree[stage]++
			dependents[dep] = append(dependents[dep], stage)
		}
	}

	var ready []StageID
	for stage, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, stage)
		}
	}

	order := make([]StageID, 0, len(deps))
	for len(ready) > 0 {
		// Smallest id first keeps the order deterministic.
		minIdx := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[minIdx] {
				minIdx = i
			}
		}
		stage := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)
		order = append(order, stage)

		for _, dependent := range dependents[stage] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(deps) {
		return nil, fmt.Errorf("stage graph contains a cycle")
	}
	return order, nil
}

// conversationGraph is the fixed workflow shape: both retrievals feed
// merge, then generate, persist, emit.
func conversationGraph() *Graph {
	g, err := NewGraph(map[StageID][]StageID{
		StageRetrieveShort: nil,
		StageRetrieveLong:  nil,
		StageMerge:         {StageRetrieveShort, StageRetrieveLong},
		StageGenerate:      {StageMerge},
		StagePersistShort:  {StageGenerate},
		StageEmitEvent:     {StagePersistShort},
	})
	if err != nil {
		// The shape is static; a failure here is a programming error.
		panic(err)
	}
	return g
}
