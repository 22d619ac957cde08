package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func makeTurns(texts ...string) []types.Turn {
	turns := make([]types.Turn, len(texts))
	base := time.Now().UTC().Add(-time.Duration(len(texts)) * time.Minute)
	for i, text := range texts {
		turns[i] = types.Turn{
			SessionID: "s1",
			Seq:       uint64(i + 1),
			Role:      types.RoleUser,
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return turns
}

func makeHits(scores map[string]float64) []types.ScoredItem {
	hits := make([]types.ScoredItem, 0, len(scores))
	for text, score := range scores {
		hits = append(hits, types.ScoredItem{
			Item: types.MemoryItem{
				ID:   "lt-" + text,
				Text: text,
				Kind: types.MemoryMessage,
			},
			Score: score,
		})
	}
	return hits
}

func TestMergerCombinesBothSources(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil)

	result := m.Merge(
		makeTurns("recent question"),
		makeHits(map[string]float64{"old fact": 0.8}),
	)

	require.Len(t, result.Entries, 2)
	assert.False(t, result.Truncated)

	sources := map[types.ContextSource]bool{}
	for _, e := range result.Entries {
		sources[e.Source] = true
	}
	assert.True(t, sources[types.SourceShortTerm])
	assert.True(t, sources[types.SourceLongTerm])
}

func TestMergerEmptyInputs(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil)

	result := m.Merge(nil, nil)
	assert.Empty(t, result.Entries)
	assert.False(t, result.Truncated)
}

func TestMergerItemBudget(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 2}, nil, nil)

	result := m.Merge(
		makeTurns("a", "b", "c", "d"),
		nil,
	)

	assert.Len(t, result.Entries, 2)
	assert.True(t, result.Truncated)
}

func TestMergerRecencyFloor(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 1}, nil, nil)

	result := m.Merge(
		makeTurns("older turn"),
		makeHits(map[string]float64{"very relevant": 0.99}),
	)

	// The most recent turn survives even a budget of one.
	var foundRecent bool
	for _, e := range result.Entries {
		if e.Source == types.SourceShortTerm && e.Text == "older turn" {
			foundRecent = true
		}
	}
	assert.True(t, foundRecent)
}

func TestMergerTokenBudget(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10, TokenBudget: 3}, EstimateCounter{}, nil)

	// Each text is 4 chars = 1 token under the estimate counter.
	result := m.Merge(makeTurns("aaaa", "bbbb", "cccc", "dddd", "eeee"), nil)

	assert.Len(t, result.Entries, 3)
	assert.True(t, result.Truncated)
}

func TestMergerDedupByNormalizedText(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil)

	result := m.Merge(
		makeTurns("The Capital Of France"),
		makeHits(map[string]float64{"the  capital of france": 0.9}),
	)

	require.Len(t, result.Entries, 1)
	// The pinned recent turn wins the collision.
	assert.Equal(t, types.SourceShortTerm, result.Entries[0].Source)
}

func TestMergerScoreOrderPrefersRecentTurns(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil)

	result := m.Merge(makeTurns("oldest", "middle", "newest"), nil)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, "newest", result.Entries[0].Text)
	// Remaining turns follow in descending recency.
	assert.Equal(t, "middle", result.Entries[1].Text)
	assert.Equal(t, "oldest", result.Entries[2].Text)
}

func TestMergerChronologicalOrder(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10, OrderChronological: true}, nil, nil)

	result := m.Merge(
		makeTurns("first", "second"),
		makeHits(map[string]float64{"long-term memory": 0.9}),
	)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, types.SourceLongTerm, result.Entries[0].Source)
	assert.Equal(t, "first", result.Entries[1].Text)
	assert.Equal(t, "second", result.Entries[2].Text)
}

func TestMergerNormalizesScoresPerSource(t *testing.T) {
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil)

	result := m.Merge(
		makeTurns("a", "b", "c"),
		makeHits(map[string]float64{"x": 0.2, "y": 0.4}),
	)

	for _, e := range result.Entries {
		assert.GreaterOrEqual(t, e.Score, 0.0)
		assert.LessOrEqual(t, e.Score, 1.0)
	}
}

func TestMergerCustomDecay(t *testing.T) {
	flat := func(int) float64 { return 1 }
	m := NewMerger(MergerConfig{ItemBudget: 10}, nil, nil).WithDecay(flat)

	result := m.Merge(makeTurns("a", "b"), nil)
	require.Len(t, result.Entries, 2)
	// Degenerate range normalizes to 1 for every turn.
	assert.Equal(t, 1.0, result.Entries[0].Score)
	assert.Equal(t, 1.0, result.Entries[1].Score)
}
