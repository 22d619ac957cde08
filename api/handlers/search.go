package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/api"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// SearchHandler serves POST /api/memories/search.
type SearchHandler struct {
	longTerm memory.LongTermStore
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewSearchHandler creates the handler.
func NewSearchHandler(longTerm memory.LongTermStore, embedder embedding.Provider, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{
		longTerm: longTerm,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "search_handler")),
	}
}

// HandleSearch runs a similarity search over long-term memory.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req api.SearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	vector, err := h.embedder.EmbedQuery(r.Context(), req.Query)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	items, err := h.longTerm.Search(r.Context(), vector, limit, memory.Filter{
		SessionID:     req.SessionID,
		Kind:          types.MemoryKind(req.Kind),
		MinImportance: req.MinImportance,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.SearchResponse{Results: api.NewSearchResults(items)})
}
