package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/groundplane/groundplane/internal/api"
	"github.com/groundplane/groundplane/internal/api/handlers"
	"github.com/groundplane/groundplane/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator    middleware.AuthValidator
	AgentHandler     *handlers.AgentHandler
	KnowledgeHandler *handlers.KnowledgeHandler
	ChatHandler      *handlers.ChatHandler
	UsageHandler     *handlers.UsageHandler
	AuthHandler      *handlers.AuthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Covers multipart uploads; per-file quota is enforced again in the service.
	const maxBodyBytes int64 = 20 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.TenantAttribution)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", cfg.AgentHandler.Create)
			r.Get("/", cfg.AgentHandler.List)
			r.Get("/{id}", cfg.AgentHandler.Get)
			r.Put("/{id}", cfg.AgentHandler.Update)
			r.Delete("/{id}", cfg.AgentHandler.Delete)
			r.Post("/{agentID}/chat", cfg.ChatHandler.Chat)
			r.Post("/{agentID}/retrieve", cfg.ChatHandler.Retrieve)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/", cfg.KnowledgeHandler.Create)
			r.Get("/", cfg.KnowledgeHandler.List)
			r.Get("/{id}", cfg.KnowledgeHandler.GetStatus)
			r.Get("/{id}/content", cfg.KnowledgeHandler.GetContent)
			r.Get("/{id}/download", cfg.KnowledgeHandler.Download)
			r.Post("/{id}/reindex", cfg.KnowledgeHandler.Reindex)
			r.Delete("/{id}", cfg.KnowledgeHandler.Delete)
		})

		r.Get("/jobs/{id}", cfg.KnowledgeHandler.GetJob)
		r.Get("/usage", cfg.UsageHandler.Get)
	})

	r.Post("/tenants", cfg.AuthHandler.CreateTenant)
	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)

	return r
}
