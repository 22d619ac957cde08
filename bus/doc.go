// Package bus carries consolidation events between the workflow engine
// and the consolidation pipeline with at-least-once delivery.
//
// The Redis Streams implementation partitions nothing itself; every
// event carries its session id and consumers dispatch per-session. A
// bounded delivery counter routes poison events to a dead-letter stream
// so one bad event cannot wedge the group.
package bus
