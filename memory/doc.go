// Package memory provides the two memory tiers and the merger that
// combines them into a single ranked context window.
//
// The short-term tier is a recency-bounded, per-session turn window with
// strictly FIFO eviction. The long-term tier is a durable,
// embedding-indexed store supporting cosine similarity search with
// metadata filtering. The two tiers have deliberately different retrieval
// semantics; Merger normalizes their scores before combining them.
package memory
