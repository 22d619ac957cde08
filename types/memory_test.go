package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsolidationEventItemID(t *testing.T) {
	ev := ConsolidationEvent{SessionID: "s1", FromSeq: 3, ToSeq: 4}

	// Same event always derives the same IDs.
	assert.Equal(t, ev.ItemID(3), ev.ItemID(3))
	assert.Equal(t, "mem:s1:3-4:3", ev.ItemID(3))

	// Different ranges never collide.
	other := ConsolidationEvent{SessionID: "s1", FromSeq: 5, ToSeq: 6}
	assert.NotEqual(t, ev.ItemID(5), other.ItemID(5))
}

func TestRetrievalResultTexts(t *testing.T) {
	r := RetrievalResult{Entries: []ContextEntry{
		{Source: SourceLongTerm, Text: "prefers espresso"},
		{Source: SourceShortTerm, Text: "what did I order?", Seq: 7},
	}}
	assert.Equal(t, []string{"prefers espresso", "what did I order?"}, r.Texts())
	assert.Empty(t, RetrievalResult{}.Texts())
}
