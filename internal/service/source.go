package service

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/pagination"
	"github.com/groundplane/groundplane/internal/storage"
	"github.com/groundplane/groundplane/internal/telemetry"
)

// SourceService handles the lifecycle of knowledge sources: intake, reindex,
// retrieval of status and content, and deletion with full cleanup.
type SourceService struct {
	sources    SourceRepositoryInterface
	jobs       IngestJobRepositoryInterface
	agents     AgentRepositoryInterface
	tenants    TenantRepositoryInterface
	usage      UsageRepositoryInterface
	blobs      BlobStore
	index      VectorIndex
	quota      QuotaPolicy
	dispatcher Dispatcher
	txRunner   TxRunner
	uuidGen    UUIDGenerator
}

// TenantRepositoryInterface resolves tenants for quota decisions.
type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
}

func NewSourceService(
	sources SourceRepositoryInterface,
	jobs IngestJobRepositoryInterface,
	agents AgentRepositoryInterface,
	tenants TenantRepositoryInterface,
	usage UsageRepositoryInterface,
	blobs BlobStore,
	index VectorIndex,
	quota QuotaPolicy,
	dispatcher Dispatcher,
	txRunner TxRunner,
) *SourceService {
	return &SourceService{
		sources:    sources,
		jobs:       jobs,
		agents:     agents,
		tenants:    tenants,
		usage:      usage,
		blobs:      blobs,
		index:      index,
		quota:      quota,
		dispatcher: dispatcher,
		txRunner:   txRunner,
		uuidGen:    &DefaultUUIDGenerator{},
	}
}

// WithUUIDGen overrides the ID generator (for testing).
func (s *SourceService) WithUUIDGen(gen UUIDGenerator) *SourceService {
	s.uuidGen = gen
	return s
}

// AddSourceInput describes a new knowledge source.
type AddSourceInput struct {
	TenantID  string
	AgentID   string
	Kind      domain.SourceKind
	Title     string
	SourceURI string // required for url sources
	Content   []byte // required for upload and text sources
}

// AddSourceOutput returns the created records.
type AddSourceOutput struct {
	Source *domain.KnowledgeSource
	Job    *domain.IngestJob
}

// AddSource validates and stores a new source, charges quota, queues an
// ingest job and dispatches it for immediate processing. Quota is charged
// at intake and is not refunded if the ingest job later fails.
func (s *SourceService) AddSource(ctx context.Context, input AddSourceInput) (*AddSourceOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "SourceService.AddSource", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		AgentID:   input.AgentID,
		Operation: "add_source",
	})
	defer span.End()

	agent, err := s.ownedAgent(ctx, input.TenantID, input.AgentID)
	if err != nil {
		return nil, err
	}

	if err := validateAddSource(input); err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetByID(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.Get(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.quota.LimitsFor(tenant.Tier).Allows(used, int64(len(input.Content)), true); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	source := domain.NewKnowledgeSource(s.uuidGen.NewString(), agent.ID, input.Kind, input.Title, now)
	source.SourceURI = input.SourceURI
	source.RawBytes = int64(len(input.Content))

	if len(input.Content) > 0 && s.blobs != nil {
		key := storage.OriginalKey(
			mustUUID(agent.TenantID), mustUUID(agent.ID), mustUUID(source.ID), input.Kind)
		if err := s.blobs.PutObject(ctx, key, input.Content, storage.ContentTypeFor(input.Kind)); err != nil {
			return nil, domain.NewStorageError("failed to store source payload", err)
		}
		source.StorageKey = key
	}

	job := domain.NewIngestJob(s.uuidGen.NewString(), source.ID, false, now)

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().Create(ctx, source); err != nil {
			return err
		}
		return repos.Jobs().Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	if err := s.usage.RecordUpload(ctx, input.TenantID, source.RawBytes); err != nil {
		telemetry.CaptureError(ctx, err)
		log.Printf("source: failed to record upload usage for tenant %s: %v", input.TenantID, err)
	}

	s.dispatcher.Dispatch(job, input.Content)

	return &AddSourceOutput{Source: source, Job: job}, nil
}

// Reindex queues a fresh ingest job that replaces the source's existing
// vector points. At most one job per source runs at a time; the new job
// waits if another is still in flight.
func (s *SourceService) Reindex(ctx context.Context, tenantID, sourceID string) (*domain.IngestJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "SourceService.Reindex", telemetry.SpanAttributes{
		TenantID:  tenantID,
		SourceID:  sourceID,
		Operation: "reindex",
	})
	defer span.End()

	source, _, err := s.ownedSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}

	job := domain.NewIngestJob(s.uuidGen.NewString(), source.ID, true, time.Now().UTC())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(job, nil)
	return job, nil
}

// SourceStatus combines a source with its most recent ingest job.
type SourceStatus struct {
	Source    *domain.KnowledgeSource
	LatestJob *domain.IngestJob // nil when no job exists yet
}

func (s *SourceService) GetStatus(ctx context.Context, tenantID, sourceID string) (*SourceStatus, error) {
	source, _, err := s.ownedSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.LatestBySource(ctx, source.ID)
	if err != nil && err != domain.ErrJobNotFound {
		return nil, err
	}

	return &SourceStatus{Source: source, LatestJob: job}, nil
}

// GetJob returns one ingest job, checking that its source belongs to the
// tenant.
func (s *SourceService) GetJob(ctx context.Context, tenantID, jobID string) (*domain.IngestJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.ownedSource(ctx, tenantID, job.SourceID); err != nil {
		return nil, err
	}
	return job, nil
}

// GetContent returns the extracted plain text of a ready source.
func (s *SourceService) GetContent(ctx context.Context, tenantID, sourceID string) (string, error) {
	source, _, err := s.ownedSource(ctx, tenantID, sourceID)
	if err != nil {
		return "", err
	}
	if source.ExtractedKey == "" || s.blobs == nil {
		return "", domain.NewDomainError(domain.ErrCodeNotFound, "source has no extracted content")
	}

	data, err := s.blobs.GetObject(ctx, source.ExtractedKey)
	if err != nil {
		return "", domain.NewStorageError("failed to load extracted content", err)
	}
	return string(data), nil
}

// GetDownloadURL returns a presigned URL for the source's original payload.
func (s *SourceService) GetDownloadURL(ctx context.Context, tenantID, sourceID string) (string, error) {
	source, _, err := s.ownedSource(ctx, tenantID, sourceID)
	if err != nil {
		return "", err
	}
	if source.StorageKey == "" || s.blobs == nil {
		return "", domain.NewDomainError(domain.ErrCodeNotFound, "source has no stored payload")
	}

	url, err := s.blobs.GenerateDownloadURL(ctx, source.StorageKey)
	if err != nil {
		return "", domain.NewStorageError("failed to presign download", err)
	}
	return url, nil
}

// ListSourcesInput pages through an agent's sources.
type ListSourcesInput struct {
	TenantID string
	AgentID  string
	Cursor   string
	Limit    int
}

func (s *SourceService) ListSources(ctx context.Context, input ListSourcesInput) (*SourcePageResult, error) {
	agent, err := s.ownedAgent(ctx, input.TenantID, input.AgentID)
	if err != nil {
		return nil, err
	}

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	return s.sources.ListByAgentWithCursor(ctx, agent.ID, cursor, input.Limit)
}

// DeleteSource removes a source everywhere: its vector points, its stored
// objects and its database rows. Vector and blob cleanup failures are
// reported but never block the delete; the rows always go.
func (s *SourceService) DeleteSource(ctx context.Context, tenantID, sourceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "SourceService.DeleteSource", telemetry.SpanAttributes{
		TenantID:  tenantID,
		SourceID:  sourceID,
		Operation: "delete_source",
	})
	defer span.End()

	source, agent, err := s.ownedSource(ctx, tenantID, sourceID)
	if err != nil {
		return err
	}

	removed, err := s.index.DeleteForSource(ctx, agent.VectorNamespace, mustUUID(source.ID))
	if err != nil {
		telemetry.CaptureError(ctx, err)
		log.Printf("source: failed to delete vectors for %s: %v", source.ID, err)
		removed = 0
	}

	if s.blobs != nil {
		for _, key := range []string{source.StorageKey, source.ExtractedKey} {
			if key == "" {
				continue
			}
			if err := s.blobs.DeleteObject(ctx, key); err != nil {
				telemetry.CaptureError(ctx, err)
				log.Printf("source: failed to delete object %s: %v", key, err)
			}
		}
	}

	if err := s.sources.Delete(ctx, source.ID); err != nil {
		return err
	}

	if err := s.usage.RecordDeletion(ctx, tenantID, source.RawBytes); err != nil {
		telemetry.CaptureError(ctx, err)
	}
	if removed > 0 {
		if err := s.usage.RecordChunks(ctx, tenantID, -int(removed)); err != nil {
			telemetry.CaptureError(ctx, err)
		}
	}

	return nil
}

func (s *SourceService) ownedAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.TenantID != tenantID {
		return nil, domain.ErrNotOwner
	}
	return agent, nil
}

func (s *SourceService) ownedSource(ctx context.Context, tenantID, sourceID string) (*domain.KnowledgeSource, *domain.Agent, error) {
	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	agent, err := s.ownedAgent(ctx, tenantID, source.AgentID)
	if err != nil {
		return nil, nil, err
	}
	return source, agent, nil
}

func validateAddSource(input AddSourceInput) error {
	switch input.Kind {
	case domain.SourceKindURL:
		if input.SourceURI == "" {
			return domain.NewValidationError("url sources require a source uri")
		}
		parsed, err := url.Parse(input.SourceURI)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return domain.NewValidationError("source uri is not a valid absolute url")
		}
	case domain.SourceKindUploadPDF, domain.SourceKindUploadTxt, domain.SourceKindText:
		if len(input.Content) == 0 {
			return domain.NewValidationError("source content is required")
		}
	default:
		return domain.ErrInvalidSourceKind
	}
	if input.Title == "" {
		return domain.NewValidationError("source title is required")
	}
	return nil
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
