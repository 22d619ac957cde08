package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/api"
	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/types"
)

// ConversationHandler serves POST /api/conversation.
type ConversationHandler struct {
	engine  *engine.Engine
	limiter *SessionLimiter
	logger  *zap.Logger
}

// NewConversationHandler creates the handler. limiter may be nil to
// disable rate limiting.
func NewConversationHandler(eng *engine.Engine, limiter *SessionLimiter, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		engine:  eng,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "conversation_handler")),
	}
}

// HandleConversation runs one workflow execution for the session.
func (h *ConversationHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	var req api.ConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest,
			"session_id and message are required"), h.logger)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(req.SessionID) {
		WriteError(w, types.NewError(types.ErrRateLimited,
			"session request rate exceeded").WithRetryable(true), h.logger)
		return
	}

	result, err := h.engine.Execute(r.Context(), req.SessionID, req.Message)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ConversationResponse{
		SessionID:   req.SessionID,
		Response:    result.Response,
		State:       string(result.State),
		ContextSize: len(result.Context.Entries),
		Degraded:    result.Degraded,
	})
}
