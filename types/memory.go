package types

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single message within a session. Turns are immutable once
// written; Seq is assigned by the short-term store and is strictly
// increasing within a session.
type Turn struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryKind classifies a durable memory item.
type MemoryKind string

const (
	// MemoryMessage is a promoted conversational turn.
	MemoryMessage MemoryKind = "message"
	// MemorySummary is an extractive summary of a turn window.
	MemorySummary MemoryKind = "summary"
	// MemoryFact is standalone factual content.
	MemoryFact MemoryKind = "fact"
)

// MemoryItem is a durable, embedding-indexed memory entry. Items are
// immutable except for Importance and LastAccessed refreshes.
type MemoryItem struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Kind         MemoryKind `json:"kind"`
	Text         string     `json:"text"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Importance   float64    `json:"importance"`
	Tags         []string   `json:"tags,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed,omitempty"`
}

// ScoredItem pairs a memory item with its similarity score for one query.
type ScoredItem struct {
	Item  MemoryItem `json:"item"`
	Score float64    `json:"score"`
}

// ConsolidationEvent announces a completed turn range eligible for
// promotion into long-term memory. Delivery is at-least-once; consumers
// must treat the (SessionID, FromSeq, ToSeq) triple as the dedup key.
type ConsolidationEvent struct {
	SessionID string    `json:"session_id"`
	FromSeq   uint64    `json:"from_seq"`
	ToSeq     uint64    `json:"to_seq"`
	EmittedAt time.Time `json:"emitted_at"`
}

// ItemID derives the deterministic long-term item ID for a turn within a
// consolidated range. Replaying the same event yields the same IDs, which
// makes promotion idempotent under redelivery.
func (e ConsolidationEvent) ItemID(seq uint64) string {
	return fmt.Sprintf("mem:%s:%d-%d:%d", e.SessionID, e.FromSeq, e.ToSeq, seq)
}

// SummaryID derives the deterministic ID for a window summary item.
func SummaryID(sessionID string, fromSeq, toSeq uint64) string {
	return fmt.Sprintf("sum:%s:%d-%d", sessionID, fromSeq, toSeq)
}

// ContextSource identifies which memory tier contributed a context entry.
type ContextSource string

const (
	SourceShortTerm ContextSource = "short_term"
	SourceLongTerm  ContextSource = "long_term"
)

// ContextEntry is one ranked element of an assembled context window.
type ContextEntry struct {
	Source ContextSource `json:"source"`
	Text   string        `json:"text"`
	// Score is the merged, normalized relevance score in [0,1].
	Score float64 `json:"score"`
	// Seq is set for short-term entries, zero otherwise.
	Seq uint64 `json:"seq,omitempty"`
	// ItemID is set for long-term entries, empty otherwise.
	ItemID string `json:"item_id,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// RetrievalResult is the merged, budget-bounded context assembled for one
// generation call. It exists only for the lifetime of a single request.
type RetrievalResult struct {
	Entries []ContextEntry `json:"entries"`
	// Truncated reports whether the budget forced entries to be dropped.
	Truncated bool `json:"truncated"`
}

// Texts returns the entry texts in result order, ready for prompt assembly.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Text
	}
	return out
}
