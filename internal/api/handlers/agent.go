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

type AgentService interface {
	Create(ctx context.Context, input service.CreateAgentInput) (*domain.Agent, error)
	Get(ctx context.Context, tenantID, agentID string) (*domain.Agent, error)
	List(ctx context.Context, tenantID string) ([]*domain.Agent, error)
	Update(ctx context.Context, input service.UpdateAgentInput) (*domain.Agent, error)
	Delete(ctx context.Context, tenantID, agentID string) error
}

type AgentHandler struct {
	svc AgentService
}

func NewAgentHandler(svc AgentService) *AgentHandler {
	return &AgentHandler{svc: svc}
}

type CreateAgentRequest struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

type UpdateAgentRequest struct {
	Name             string `json:"name"`
	Instructions     string `json:"instructions"`
	RetrievalEnabled *bool  `json:"retrieval_enabled"`
	RetrievalTopK    *int   `json:"retrieval_top_k"`
}

type AgentResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Instructions     string `json:"instructions"`
	RetrievalEnabled bool   `json:"retrieval_enabled"`
	RetrievalTopK    int    `json:"retrieval_top_k"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func agentToResponse(a *domain.Agent) *AgentResponse {
	return &AgentResponse{
		ID:               a.ID,
		Name:             a.Name,
		Instructions:     a.Instructions,
		RetrievalEnabled: a.RetrievalEnabled,
		RetrievalTopK:    a.RetrievalTopK,
		CreatedAt:        a.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:        a.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	agent, err := h.svc.Create(r.Context(), service.CreateAgentInput{
		TenantID:     tenantID,
		Name:         req.Name,
		Instructions: req.Instructions,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, agentToResponse(agent))
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	agent, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, agentToResponse(agent))
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	agents, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*AgentResponse, len(agents))
	for i, a := range agents {
		responses[i] = agentToResponse(a)
	}

	api.Success(w, http.StatusOK, responses)
}

func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := h.svc.Update(r.Context(), service.UpdateAgentInput{
		TenantID:         tenantID,
		AgentID:          id,
		Name:             req.Name,
		Instructions:     req.Instructions,
		RetrievalEnabled: req.RetrievalEnabled,
		RetrievalTopK:    req.RetrievalTopK,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, agentToResponse(agent))
}

// Delete removes an agent together with its sources, stored objects and the
// whole vector namespace.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}
