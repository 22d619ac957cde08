package consolidation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/memflow/types"
)

func turnWithText(text string) types.Turn {
	return types.Turn{SessionID: "s1", Seq: 1, Role: types.RoleUser, Text: text}
}

func TestHeuristicScorerLengthFactor(t *testing.T) {
	s := NewHeuristicScorer()

	assert.InDelta(t, 0.35, s.Score(turnWithText(strings.Repeat("x", 50))), 1e-9)
	assert.InDelta(t, 0.7, s.Score(turnWithText(strings.Repeat("x", 100))), 1e-9)
	// Length saturates at 100 characters.
	assert.InDelta(t, 0.7, s.Score(turnWithText(strings.Repeat("x", 500))), 1e-9)
}

func TestHeuristicScorerSaveIntentBoost(t *testing.T) {
	s := NewHeuristicScorer()

	plain := s.Score(turnWithText(strings.Repeat("x", 50)))
	boosted := s.Score(turnWithText("remember " + strings.Repeat("x", 41)))
	assert.InDelta(t, plain+0.2, boosted, 1e-9)
}

func TestHeuristicScorerFactBoost(t *testing.T) {
	s := NewHeuristicScorer()

	score := s.Score(turnWithText("my name is Ada Lovelace"))
	noFact := s.Score(turnWithText("the weather is quite nice"))
	assert.Greater(t, score, noFact-0.2)
	assert.InDelta(t, float64(len("my name is Ada Lovelace"))/100*0.7+0.1, score, 1e-9)
}

func TestHeuristicScorerClampsToOne(t *testing.T) {
	s := NewHeuristicScorer()

	text := "remember that my name is " + strings.Repeat("x", 200)
	score := s.Score(turnWithText(text))
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.LessOrEqual(t, score, 1.0)
}

func TestHeuristicScorerEmptyText(t *testing.T) {
	s := NewHeuristicScorer()
	assert.Equal(t, 0.0, s.Score(turnWithText("")))
}
