package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/groundplane/groundplane/internal/api"
	"github.com/groundplane/groundplane/internal/api/middleware"
	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/service"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing; larger
// file parts spill to disk.
const maxUploadMemory = 4 << 20

type SourceService interface {
	AddSource(ctx context.Context, input service.AddSourceInput) (*service.AddSourceOutput, error)
	ListSources(ctx context.Context, input service.ListSourcesInput) (*service.SourcePageResult, error)
	GetStatus(ctx context.Context, tenantID, sourceID string) (*service.SourceStatus, error)
	GetJob(ctx context.Context, tenantID, jobID string) (*domain.IngestJob, error)
	GetContent(ctx context.Context, tenantID, sourceID string) (string, error)
	GetDownloadURL(ctx context.Context, tenantID, sourceID string) (string, error)
	Reindex(ctx context.Context, tenantID, sourceID string) (*domain.IngestJob, error)
	DeleteSource(ctx context.Context, tenantID, sourceID string) error
}

type KnowledgeHandler struct {
	svc SourceService
}

func NewKnowledgeHandler(svc SourceService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

// CreateSourceRequest is the JSON form of source creation, used for pasted
// text and scraped URLs. File uploads arrive as multipart form data instead.
type CreateSourceRequest struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

type SourceResponse struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	SourceURI      string `json:"source_uri,omitempty"`
	RawBytes       int64  `json:"raw_bytes"`
	ExtractedBytes int64  `json:"extracted_bytes,omitempty"`
	ChunkCount     *int   `json:"chunk_count"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type JobResponse struct {
	ID        string `json:"id"`
	SourceID  string `json:"source_id"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type SourceStatusResponse struct {
	Source    *SourceResponse `json:"source"`
	LatestJob *JobResponse    `json:"latest_job,omitempty"`
}

func sourceToResponse(s *domain.KnowledgeSource) *SourceResponse {
	return &SourceResponse{
		ID:             s.ID,
		AgentID:        s.AgentID,
		Kind:           string(s.Kind),
		Title:          s.Title,
		SourceURI:      s.SourceURI,
		RawBytes:       s.RawBytes,
		ExtractedBytes: s.ExtractedBytes,
		ChunkCount:     s.ChunkCount,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:      s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func jobToResponse(j *domain.IngestJob) *JobResponse {
	return &JobResponse{
		ID:        j.ID,
		SourceID:  j.SourceID,
		State:     string(j.State),
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: j.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Create registers a new knowledge source and enqueues its ingest job.
// Multipart requests carry file uploads; JSON requests carry pasted text or
// a URL to scrape. The response returns immediately with the queued job --
// ingestion runs in the background.
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input service.AddSourceInput
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		input, err = parseUploadForm(r)
	} else {
		input, err = parseCreateJSON(r)
	}
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	input.TenantID = tenantID

	out, err := h.svc.AddSource(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, SourceStatusResponse{
		Source:    sourceToResponse(out.Source),
		LatestJob: jobToResponse(out.Job),
	})
}

func parseCreateJSON(r *http.Request) (service.AddSourceInput, error) {
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.AddSourceInput{}, domain.NewValidationError("invalid request body")
	}
	if req.AgentID == "" {
		return service.AddSourceInput{}, domain.NewValidationError("agent_id is required")
	}

	kind := domain.SourceKind(req.Kind)
	if req.Kind == "" {
		if req.URL != "" {
			kind = domain.SourceKindURL
		} else {
			kind = domain.SourceKindText
		}
	}

	input := service.AddSourceInput{
		AgentID:   req.AgentID,
		Kind:      kind,
		Title:     req.Title,
		SourceURI: req.URL,
		Content:   []byte(req.Content),
	}
	if input.Title == "" && req.URL != "" {
		input.Title = req.URL
	}
	return input, nil
}

func parseUploadForm(r *http.Request) (service.AddSourceInput, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return service.AddSourceInput{}, domain.NewValidationError("invalid multipart form")
	}

	agentID := r.FormValue("agent_id")
	if agentID == "" {
		return service.AddSourceInput{}, domain.NewValidationError("agent_id is required")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return service.AddSourceInput{}, domain.NewValidationError("file is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return service.AddSourceInput{}, domain.NewValidationError("failed to read uploaded file")
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	return service.AddSourceInput{
		AgentID: agentID,
		Kind:    kindForUpload(header.Filename),
		Title:   title,
		Content: content,
	}, nil
}

// kindForUpload maps an uploaded filename to a source kind. Unknown
// extensions become other-binary uploads, which the extractor rejects with a
// clear error instead of guessing at the format.
func kindForUpload(filename string) domain.SourceKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.SourceKindUploadPDF
	case ".txt", ".md", ".markdown", ".text":
		return domain.SourceKindUploadTxt
	default:
		return domain.SourceKindOther
	}
}

type SourceListResponse struct {
	Items   []*SourceResponse `json:"items"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"has_more"`
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		api.Error(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	result, err := h.svc.ListSources(r.Context(), service.ListSourcesInput{
		TenantID: tenantID,
		AgentID:  agentID,
		Cursor:   r.URL.Query().Get("cursor"),
		Limit:    limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*SourceResponse, len(result.Items))
	for i, s := range result.Items {
		responses[i] = sourceToResponse(s)
	}

	api.Success(w, http.StatusOK, SourceListResponse{
		Items:   responses,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	})
}

// GetStatus returns a source together with its most recent ingest job. A
// failed source carries the job's stored error string verbatim.
func (h *KnowledgeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
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

	status, err := h.svc.GetStatus(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SourceStatusResponse{Source: sourceToResponse(status.Source)}
	if status.LatestJob != nil {
		resp.LatestJob = jobToResponse(status.LatestJob)
	}
	api.Success(w, http.StatusOK, resp)
}

// GetJob returns the state of a single ingest job.
func (h *KnowledgeHandler) GetJob(w http.ResponseWriter, r *http.Request) {
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

	job, err := h.svc.GetJob(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, jobToResponse(job))
}

func (h *KnowledgeHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	content, err := h.svc.GetContent(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"content": content})
}

func (h *KnowledgeHandler) Download(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	url, err := h.svc.GetDownloadURL(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"download_url": url})
}

// Reindex enqueues a fresh ingest job for a source. The new job replaces the
// source's existing vector points when it runs.
func (h *KnowledgeHandler) Reindex(w http.ResponseWriter, r *http.Request) {
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

	job, err := h.svc.Reindex(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	if err := h.svc.DeleteSource(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}
