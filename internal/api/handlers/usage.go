package handlers

import (
	"context"
	"net/http"

	"github.com/groundplane/groundplane/internal/api"
	"github.com/groundplane/groundplane/internal/api/middleware"
	"github.com/groundplane/groundplane/internal/domain"
)

type UsageReader interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantUsage, error)
}

type UsageHandler struct {
	usage UsageReader
}

func NewUsageHandler(usage UsageReader) *UsageHandler {
	return &UsageHandler{usage: usage}
}

type UsageResponse struct {
	TotalFiles     int   `json:"total_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	TotalChunks    int   `json:"total_chunks"`
}

// Get returns the tenant's storage counters. Counters reflect bytes stored,
// not ingestion success: a failed ingest does not refund its upload.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	usage, err := h.usage.Get(r.Context(), tenantID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, UsageResponse{
		TotalFiles:     usage.TotalFiles,
		TotalSizeBytes: usage.TotalSizeBytes,
		TotalChunks:    usage.TotalChunks,
	})
}
