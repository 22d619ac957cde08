package api

import "github.com/BaSui01/memflow/types"

// ConversationRequest is the body of POST /api/conversation.
type ConversationRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ConversationResponse is the success body of POST /api/conversation.
type ConversationResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	// State is the final workflow state, COMPLETED on success.
	State string `json:"state"`
	// ContextSize is the number of merged context entries used.
	ContextSize int `json:"context_size"`
	// Degraded marks answers produced with a memory tier unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// SearchRequest is the body of POST /api/memories/search.
type SearchRequest struct {
	Query string `json:"query"`
	// SessionID restricts the search to one session when set.
	SessionID string `json:"session_id,omitempty"`
	// Kind restricts results to one memory kind when set.
	Kind string `json:"kind,omitempty"`
	// Limit bounds the result count; defaults to 5.
	Limit int `json:"limit,omitempty"`
	// MinImportance filters out low-value items.
	MinImportance float64 `json:"min_importance,omitempty"`
}

// SearchResult is one ranked memory in a search response.
type SearchResult struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
	Score      float64 `json:"score"`
}

// SearchResponse is the success body of POST /api/memories/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// NewSearchResults converts scored items into response rows.
func NewSearchResults(items []types.ScoredItem) []SearchResult {
	results := make([]SearchResult, len(items))
	for i, scored := range items {
		results[i] = SearchResult{
			ID:         scored.Item.ID,
			SessionID:  scored.Item.SessionID,
			Kind:       string(scored.Item.Kind),
			Text:       scored.Item.Text,
			Importance: scored.Item.Importance,
			Score:      scored.Score,
		}
	}
	return results
}
