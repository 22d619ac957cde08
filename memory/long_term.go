package memory

import (
	"context"
	"math"

	"github.com/BaSui01/memflow/types"
)

// Filter narrows a long-term search. Zero values mean "no constraint".
type Filter struct {
	SessionID     string
	Kind          types.MemoryKind
	MinImportance float64
}

// LongTermStore is the durable, embedding-indexed tier. Upsert is
// idempotent by item ID; Search ranks by cosine similarity against a
// query vector of the store's fixed dimensionality.
type LongTermStore interface {
	// Upsert inserts or replaces the item by ID. Items whose embedding
	// length differs from the store dimension are rejected with
	// DIMENSION_MISMATCH.
	Upsert(ctx context.Context, item types.MemoryItem) error

	// Search returns up to k items matching the filter, ranked by cosine
	// similarity descending. Ties break on LastAccessed, most recent
	// first. An empty result is valid, not an error.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]types.ScoredItem, error)

	// Get fetches a single item by ID. Missing items return ITEM_NOT_FOUND.
	Get(ctx context.Context, id string) (types.MemoryItem, error)

	// Delete removes an item. Deleting a missing item is a no-op.
	Delete(ctx context.Context, id string) error

	// Dimension reports the fixed embedding dimensionality.
	Dimension() int

	// Ping reports store reachability.
	Ping(ctx context.Context) error

	Close(ctx context.Context) error
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Zero-magnitude vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
