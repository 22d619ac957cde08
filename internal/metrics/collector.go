package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every prometheus instrument the process exports.
// Instruments live on a private registry so tests never collide with the
// default global registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	workflowExecutionsTotal *prometheus.CounterVec
	workflowStageDuration   *prometheus.HistogramVec

	retrievalEntries   *prometheus.HistogramVec
	retrievalTruncated prometheus.Counter

	eventsPublished      prometheus.Counter
	eventPublishFailures prometheus.Counter

	consolidationEvents *prometheus.CounterVec
	itemsPromoted       prometheus.Counter
	summariesWritten    prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers all instruments under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.workflowExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Conversation workflow executions by final state",
		},
		[]string{"state"},
	)
	c.workflowStageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_stage_duration_seconds",
			Help:      "Workflow stage duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.retrievalEntries = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_entries",
			Help:      "Context entries contributed per retrieval by source",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
		[]string{"source"},
	)
	c.retrievalTruncated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_truncated_total",
			Help:      "Merges where the budget dropped candidates",
		},
	)

	c.eventsPublished = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_events_published_total",
			Help:      "Consolidation events published to the bus",
		},
	)
	c.eventPublishFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_event_publish_failures_total",
			Help:      "Consolidation event publishes that exhausted retries",
		},
	)

	c.consolidationEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_events_processed_total",
			Help:      "Consolidation events processed by outcome",
		},
		[]string{"outcome"},
	)
	c.itemsPromoted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_items_promoted_total",
			Help:      "Turns promoted into long-term memory",
		},
	)
	c.summariesWritten = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_summaries_written_total",
			Help:      "Window summaries written to long-term memory",
		},
	)

	return c
}

// Registry exposes the private registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) ObserveWorkflowExecution(state string) {
	c.workflowExecutionsTotal.WithLabelValues(state).Inc()
}

func (c *Collector) ObserveStageDuration(stage string, duration time.Duration) {
	c.workflowStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (c *Collector) ObserveRetrieval(source string, entries int, truncated bool) {
	c.retrievalEntries.WithLabelValues(source).Observe(float64(entries))
	if truncated {
		c.retrievalTruncated.Inc()
	}
}

func (c *Collector) EventPublished() { c.eventsPublished.Inc() }

func (c *Collector) EventPublishFailed() { c.eventPublishFailures.Inc() }

func (c *Collector) ObserveConsolidation(outcome string, promoted int) {
	c.consolidationEvents.WithLabelValues(outcome).Inc()
	if promoted > 0 {
		c.itemsPromoted.Add(float64(promoted))
	}
}

func (c *Collector) SummaryWritten() { c.summariesWritten.Inc() }
