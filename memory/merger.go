package memory

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// DecayFunc maps a turn's age rank (0 = most recent) to a raw recency
// score in (0, 1].
type DecayFunc func(ageRank int) float64

// ExponentialDecay returns exp(-lambda * ageRank).
func ExponentialDecay(lambda float64) DecayFunc {
	return func(ageRank int) float64 {
		return math.Exp(-lambda * float64(ageRank))
	}
}

// MergerConfig bounds the merged context window.
type MergerConfig struct {
	// TokenBudget caps the summed token count of merged entries.
	// 0 disables the token cap.
	TokenBudget int
	// ItemBudget caps the number of merged entries.
	ItemBudget int
	// DecayLambda tunes the default exponential recency decay.
	DecayLambda float64
	// OrderChronological emits long-term entries first, then short-term
	// turns in sequence order, instead of score-descending order.
	OrderChronological bool
}

// Merger combines short-term turns and long-term search hits into one
// bounded, deduplicated context window.
//
// Scores from the two tiers are not comparable as-is: short-term carries
// only recency, long-term carries similarity. Each source is min-max
// normalized independently before the greedy budget pass. The most
// recent turn is always included regardless of score.
type Merger struct {
	config  MergerConfig
	counter TokenCounter
	decay   DecayFunc
	logger  *zap.Logger
}

// NewMerger creates a merger. counter may be nil, which disables the
// token cap; decay defaults to exponential with the configured lambda.
func NewMerger(config MergerConfig, counter TokenCounter, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ItemBudget <= 0 {
		config.ItemBudget = 16
	}
	lambda := config.DecayLambda
	if lambda <= 0 {
		lambda = 0.15
	}
	return &Merger{
		config:  config,
		counter: counter,
		decay:   ExponentialDecay(lambda),
		logger:  logger.With(zap.String("component", "merger")),
	}
}

// WithDecay replaces the recency decay function.
func (m *Merger) WithDecay(fn DecayFunc) *Merger {
	if fn != nil {
		m.decay = fn
	}
	return m
}

type candidate struct {
	entry   types.ContextEntry
	pinned  bool
	dedupID string
}

// Merge builds the context window. turns must be in chronological order
// (most recent last), as ReadWindow returns them.
func (m *Merger) Merge(turns []types.Turn, hits []types.ScoredItem) types.RetrievalResult {
	candidates := m.collect(turns, hits)
	candidates = dedup(candidates)

	// Score descending; pinned first so the recency floor survives the
	// budget pass even with a zero-ish score.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].pinned != candidates[j].pinned {
			return candidates[i].pinned
		}
		return candidates[i].entry.Score > candidates[j].entry.Score
	})

	selected, truncated := m.applyBudget(candidates)

	if m.config.OrderChronological {
		orderChronological(selected)
	}

	entries := make([]types.ContextEntry, len(selected))
	for i, c := range selected {
		entries[i] = c.entry
	}
	return types.RetrievalResult{Entries: entries, Truncated: truncated}
}

func (m *Merger) collect(turns []types.Turn, hits []types.ScoredItem) []candidate {
	candidates := make([]candidate, 0, len(turns)+len(hits))

	// Short-term raw scores come from recency decay over age rank.
	shortRaw := make([]float64, len(turns))
	for i := range turns {
		ageRank := len(turns) - 1 - i
		shortRaw[i] = m.decay(ageRank)
	}
	shortNorm := minMaxNormalize(shortRaw)
	for i, t := range turns {
		candidates = append(candidates, candidate{
			entry: types.ContextEntry{
				Source: types.SourceShortTerm,
				Text:   t.Text,
				Score:  shortNorm[i],
				Seq:    t.Seq,
				Role:   t.Role,
			},
			pinned:  i == len(turns)-1,
			dedupID: normalizeText(t.Text),
		})
	}

	longRaw := make([]float64, len(hits))
	for i, h := range hits {
		longRaw[i] = h.Score
	}
	longNorm := minMaxNormalize(longRaw)
	for i, h := range hits {
		candidates = append(candidates, candidate{
			entry: types.ContextEntry{
				Source: types.SourceLongTerm,
				Text:   h.Item.Text,
				Score:  longNorm[i],
				ItemID: h.Item.ID,
			},
			dedupID: normalizeText(h.Item.Text),
		})
	}
	return candidates
}

// dedup keeps one candidate per normalized text: the pinned one if any,
// otherwise the highest scored. Order of survivors is preserved.
func dedup(candidates []candidate) []candidate {
	best := make(map[string]int, len(candidates))
	for i, c := range candidates {
		j, seen := best[c.dedupID]
		if !seen {
			best[c.dedupID] = i
			continue
		}
		keep := candidates[j]
		if c.pinned || (!keep.pinned && c.entry.Score > keep.entry.Score) {
			best[c.dedupID] = i
		}
	}

	out := candidates[:0]
	for i, c := range candidates {
		if best[c.dedupID] == i {
			out = append(out, c)
		}
	}
	return out
}

func (m *Merger) applyBudget(candidates []candidate) ([]candidate, bool) {
	var (
		selected   []candidate
		tokensUsed int
		truncated  bool
	)
	for _, c := range candidates {
		if len(selected) >= m.config.ItemBudget && !c.pinned {
			truncated = true
			continue
		}
		cost := 0
		if m.counter != nil && m.config.TokenBudget > 0 {
			cost = m.counter.CountTokens(c.entry.Text)
			if tokensUsed+cost > m.config.TokenBudget && !c.pinned {
				truncated = true
				continue
			}
		}
		tokensUsed += cost
		selected = append(selected, c)
	}
	return selected, truncated
}

// orderChronological places long-term entries first (ranked order kept),
// then short-term turns by sequence ascending.
func orderChronological(selected []candidate) {
	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i].entry, selected[j].entry
		if a.Source != b.Source {
			return a.Source == types.SourceLongTerm
		}
		if a.Source == types.SourceShortTerm {
			return a.Seq < b.Seq
		}
		return false
	})
}

// minMaxNormalize rescales scores into [0, 1] per source. A degenerate
// range (all equal) maps to 1.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
