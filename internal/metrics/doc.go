// Package metrics provides the process-wide prometheus collector.
// Internal; not part of the public API surface.
package metrics
