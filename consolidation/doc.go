// Package consolidation promotes short-term turns into long-term memory.
//
// A pipeline consumes consolidation events from the bus, scores the
// turns in the announced range, and upserts the ones that clear the
// importance threshold under deterministic event-derived IDs. Redelivery
// therefore converges on the same stored items, which is what makes
// at-least-once delivery safe.
package consolidation
