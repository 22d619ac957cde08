package consolidation

import (
	"strings"

	"github.com/BaSui01/memflow/types"
)

// Scorer assigns an importance score in [0,1] to a turn. Turns at or
// above the pipeline threshold are promoted.
type Scorer interface {
	Score(turn types.Turn) float64
}

// saveIntentMarkers are phrases that signal the user wants something
// kept.
var saveIntentMarkers = []string{
	"remember",
	"don't forget",
	"dont forget",
	"keep in mind",
	"note that",
	"for future reference",
}

// factMarkers are weak signals of declarative, durable content.
var factMarkers = []string{
	"my name is",
	"i live in",
	"i work",
	"my favorite",
	"i prefer",
	"i am allergic",
	"my birthday",
}

// HeuristicScorer scores turns without model calls: length carries most
// of the weight, explicit save intent and fact-like phrasing add boosts.
type HeuristicScorer struct {
	// SaveIntentBoost / FactBoost are added on marker match.
	SaveIntentBoost float64
	FactBoost       float64
}

// NewHeuristicScorer returns a scorer with the default boosts.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{
		SaveIntentBoost: 0.2,
		FactBoost:       0.1,
	}
}

func (s *HeuristicScorer) Score(turn types.Turn) float64 {
	lengthFactor := float64(len(turn.Text)) / 100
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	score := lengthFactor * 0.7

	lower := strings.ToLower(turn.Text)
	if containsAny(lower, saveIntentMarkers) {
		score += s.SaveIntentBoost
	}
	if containsAny(lower, factMarkers) {
		score += s.FactBoost
	}

	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

var _ Scorer = (*HeuristicScorer)(nil)
