package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groundplane/groundplane/internal/api"
	"github.com/groundplane/groundplane/internal/api/middleware"
	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/service"
)

type ChatServiceInterface interface {
	Chat(ctx context.Context, input service.ChatInput) (*service.ChatOutput, error)
}

type RetrievalServiceInterface interface {
	Retrieve(ctx context.Context, agent *domain.Agent, query string) (*service.RetrievalResult, error)
}

type AgentResolver interface {
	Get(ctx context.Context, tenantID, agentID string) (*domain.Agent, error)
}

type ChatHandler struct {
	chat      ChatServiceInterface
	retrieval RetrievalServiceInterface
	agents    AgentResolver
}

func NewChatHandler(chat ChatServiceInterface, retrieval RetrievalServiceInterface, agents AgentResolver) *ChatHandler {
	return &ChatHandler{chat: chat, retrieval: retrieval, agents: agents}
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type ChatResponse struct {
	Reply        string `json:"reply"`
	ContextUsed  bool   `json:"context_used"`
	MatchedCount int    `json:"matched_count"`
}

// Chat answers a user message, grounding the reply in the agent's indexed
// knowledge when retrieval is enabled.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		api.Error(w, http.StatusBadRequest, "agent id is required")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.chat.Chat(r.Context(), service.ChatInput{
		TenantID:  tenantID,
		AgentID:   agentID,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChatResponse{
		Reply:        out.Reply,
		ContextUsed:  out.ContextUsed,
		MatchedCount: out.MatchedCount,
	})
}

type RetrieveRequest struct {
	Query string `json:"query"`
}

type RetrieveMatch struct {
	SourceID string  `json:"source_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

type RetrieveResponse struct {
	Context string          `json:"context"`
	Matches []RetrieveMatch `json:"matches"`
}

// Retrieve exposes raw context assembly: the packed context block and the
// scored matches behind it, without a completion call. An empty context
// means "answer without retrieval augmentation", not an error.
func (h *ChatHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		api.Error(w, http.StatusBadRequest, "agent id is required")
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := h.agents.Get(r.Context(), tenantID, agentID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.retrieval.Retrieve(r.Context(), agent, req.Query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	matches := make([]RetrieveMatch, len(result.Matches))
	for i, m := range result.Matches {
		matches[i] = RetrieveMatch{
			SourceID: m.SourceID.String(),
			Text:     m.Content,
			Score:    m.Score,
		}
	}

	api.Success(w, http.StatusOK, RetrieveResponse{
		Context: result.Context,
		Matches: matches,
	})
}
