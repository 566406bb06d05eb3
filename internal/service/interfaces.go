package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/pagination"
	"github.com/groundplane/groundplane/internal/vector"
)

// SourceRepositoryInterface defines persistence for knowledge sources.
type SourceRepositoryInterface interface {
	Create(ctx context.Context, s *domain.KnowledgeSource) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error)
	ListByAgent(ctx context.Context, agentID string) ([]*domain.KnowledgeSource, error)
	ListByAgentWithCursor(ctx context.Context, agentID string, cursor *pagination.Cursor, limit int) (*SourcePageResult, error)
	Update(ctx context.Context, s *domain.KnowledgeSource) error
	MarkReady(ctx context.Context, id string, chunkCount int, extractedKey string, extractedBytes int64) error
	MarkFailed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByAgent(ctx context.Context, agentID string) (int64, error)
}

// SourcePageResult mirrors one page of a cursor listing.
type SourcePageResult struct {
	Items      []*domain.KnowledgeSource
	NextCursor string
	HasMore    bool
}

// IngestJobRepositoryInterface defines persistence for ingest jobs.
type IngestJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IngestJob) error
	GetByID(ctx context.Context, id string) (*domain.IngestJob, error)
	LatestBySource(ctx context.Context, sourceID string) (*domain.IngestJob, error)
	ListBySource(ctx context.Context, sourceID string) ([]*domain.IngestJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
	ClaimQueued(ctx context.Context, limit int) ([]*domain.IngestJob, error)
}

// AgentRepositoryInterface defines persistence for agents.
type AgentRepositoryInterface interface {
	Create(ctx context.Context, a *domain.Agent) error
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Agent, error)
	Update(ctx context.Context, a *domain.Agent) error
	Delete(ctx context.Context, id string) error
}

// UsageRepositoryInterface tracks tenant storage counters.
type UsageRepositoryInterface interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantUsage, error)
	RecordUpload(ctx context.Context, tenantID string, sizeBytes int64) error
	RecordChunks(ctx context.Context, tenantID string, delta int) error
	RecordDeletion(ctx context.Context, tenantID string, sizeBytes int64) error
}

// VectorIndex is the namespace-scoped chunk index.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []vector.Chunk) error
	Search(ctx context.Context, namespace string, query []float32, topK int) ([]vector.Match, error)
	DeleteForSource(ctx context.Context, namespace string, sourceID uuid.UUID) (int64, error)
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
}

// BlobStore holds raw payloads and extracted text.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// PageFetcher downloads web pages for url sources.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Dispatcher hands a freshly queued job to the ingest executor. raw carries
// the payload for immediate processing so the executor can skip a blob
// round-trip; it may be nil.
type Dispatcher interface {
	Dispatch(job *domain.IngestJob, raw []byte)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}
