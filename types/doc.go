// Package types provides the shared data model for memflow: conversational
// turns, durable memory items, consolidation events, retrieval results, and
// the unified error taxonomy used across the request path and the
// asynchronous consolidation path.
package types
