// Package engine runs the conversation workflow: parallel retrieval from
// both memory tiers, context merging, response generation, short-term
// persistence, and consolidation event emission.
//
// The stage graph is fixed but validated like any DAG: unknown
// dependencies, duplicates, and cycles are construction errors. Stages
// advance a per-execution state machine; retrieval failures degrade the
// context instead of failing the request, while generation and
// persistence failures are terminal.
package engine
