package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BaSui01/memflow/internal/metrics"
)

// NewRouter assembles the HTTP surface. collector may be nil, which
// drops the /metrics endpoint and request instrumentation.
func NewRouter(
	conversation *ConversationHandler,
	search *SearchHandler,
	health *HealthHandler,
	collector *metrics.Collector,
) http.Handler {
	// Method-qualified patterns make the mux answer 405 for wrong methods.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversation", conversation.HandleConversation)
	mux.HandleFunc("POST /api/memories/search", search.HandleSearch)
	mux.HandleFunc("GET /api/health", health.HandleHealth)
	if collector != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	}
	return RequestIDMiddleware(MetricsMiddleware(collector, mux))
}
