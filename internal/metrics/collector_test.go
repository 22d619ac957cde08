package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersInstruments(t *testing.T) {
	c := NewCollector("memflow", nil)

	c.ObserveHTTPRequest("POST", "/api/conversation", "200", 50*time.Millisecond)
	c.ObserveWorkflowExecution("COMPLETED")
	c.ObserveStageDuration("generate", 100*time.Millisecond)
	c.ObserveRetrieval("short_term", 5, true)
	c.EventPublished()
	c.EventPublishFailed()
	c.ObserveConsolidation("promoted", 3)
	c.SummaryWritten()

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"memflow_http_requests_total",
		"memflow_workflow_executions_total",
		"memflow_workflow_stage_duration_seconds",
		"memflow_retrieval_entries",
		"memflow_retrieval_truncated_total",
		"memflow_consolidation_events_published_total",
		"memflow_consolidation_event_publish_failures_total",
		"memflow_consolidation_events_processed_total",
		"memflow_memory_items_promoted_total",
		"memflow_memory_summaries_written_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("memflow", nil)

	c.ObserveConsolidation("promoted", 2)
	c.ObserveConsolidation("noop", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.itemsPromoted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consolidationEvents.WithLabelValues("promoted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consolidationEvents.WithLabelValues("noop")))
}

func TestSeparateCollectorsDoNotCollide(t *testing.T) {
	a := NewCollector("memflow", nil)
	b := NewCollector("memflow", nil)

	a.EventPublished()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.eventsPublished))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.eventsPublished))
}
