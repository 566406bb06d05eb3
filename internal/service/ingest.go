package service

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/embedding"
	"github.com/groundplane/groundplane/internal/extract"
	"github.com/groundplane/groundplane/internal/storage"
	"github.com/groundplane/groundplane/internal/telemetry"
	"github.com/groundplane/groundplane/internal/vector"
)

// IngestService executes ingest jobs: it turns a source's raw payload into
// embedded chunks in the agent's vector namespace and settles both the job
// and the source into their terminal states.
type IngestService struct {
	sources  SourceRepositoryInterface
	jobs     IngestJobRepositoryInterface
	agents   AgentRepositoryInterface
	usage    UsageRepositoryInterface
	blobs    BlobStore
	index    VectorIndex
	embedder embedding.Provider
	fetcher  PageFetcher
	chunkCfg ChunkConfig
}

func NewIngestService(
	sources SourceRepositoryInterface,
	jobs IngestJobRepositoryInterface,
	agents AgentRepositoryInterface,
	usage UsageRepositoryInterface,
	blobs BlobStore,
	index VectorIndex,
	embedder embedding.Provider,
	fetcher PageFetcher,
	chunkCfg ChunkConfig,
) *IngestService {
	if chunkCfg.Size <= 0 {
		chunkCfg = DefaultChunkConfig()
	}
	return &IngestService{
		sources:  sources,
		jobs:     jobs,
		agents:   agents,
		usage:    usage,
		blobs:    blobs,
		index:    index,
		embedder: embedder,
		fetcher:  fetcher,
		chunkCfg: chunkCfg,
	}
}

// Process runs one claimed job to completion. The job must already be in the
// running state. raw optionally carries the source payload so a fresh upload
// can be processed without re-reading it from the blob store; pass nil to
// load from storage. Process never returns the pipeline error itself; it
// settles the job as failed and reports nil unless settling also failed.
func (s *IngestService) Process(ctx context.Context, job *domain.IngestJob, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Process", telemetry.SpanAttributes{
		SourceID:  job.SourceID,
		JobID:     job.ID,
		Operation: "ingest",
	})
	defer span.End()

	if err := s.run(ctx, job, raw); err != nil {
		span.SetError(err)
		return s.settleFailure(ctx, job, err)
	}
	return nil
}

func (s *IngestService) run(ctx context.Context, job *domain.IngestJob, raw []byte) error {
	source, err := s.sources.GetByID(ctx, job.SourceID)
	if err != nil {
		return err
	}

	agent, err := s.agents.GetByID(ctx, source.AgentID)
	if err != nil {
		return err
	}
	if agent.VectorNamespace == "" {
		return domain.ErrMissingNamespace
	}

	text, err := s.extractText(ctx, source, job.Reindex, raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return domain.NewValidationError("no text content extracted")
	}

	chunks, err := ChunkText(text, s.chunkCfg)
	if err != nil {
		return err
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return domain.NewVectorStoreError("failed to embed chunks", err)
	}

	sourceID, err := uuid.Parse(source.ID)
	if err != nil {
		return domain.NewValidationError("source id is not a uuid: " + source.ID)
	}
	agentID, err := uuid.Parse(agent.ID)
	if err != nil {
		return domain.NewValidationError("agent id is not a uuid: " + agent.ID)
	}

	// Reindex replaces: stale points must be gone before new ones land.
	var removed int64
	if job.Reindex {
		removed, err = s.index.DeleteForSource(ctx, agent.VectorNamespace, sourceID)
		if err != nil {
			return err
		}
	}

	points := make([]vector.Chunk, len(chunks))
	for i, content := range chunks {
		points[i] = vector.Chunk{
			ID:        uuid.New(),
			Namespace: agent.VectorNamespace,
			SourceID:  sourceID,
			AgentID:   agentID,
			Index:     i,
			Content:   content,
			Embedding: vectors[i],
		}
	}
	if err := s.index.Upsert(ctx, points); err != nil {
		return err
	}

	extractedKey := source.ExtractedKey
	if tenantID, terr := uuid.Parse(agent.TenantID); terr == nil && s.blobs != nil {
		key := storage.ExtractedKey(tenantID, agentID, sourceID)
		if err := s.blobs.PutObject(ctx, key, []byte(text), "text/plain"); err != nil {
			// Extracted-text caching is best effort; the index is already
			// up to date.
			telemetry.CaptureError(ctx, err)
			log.Printf("ingest: failed to cache extracted text for source %s: %v", source.ID, err)
		} else {
			extractedKey = key
		}
	}

	if err := s.sources.MarkReady(ctx, source.ID, len(chunks), extractedKey, int64(len(text))); err != nil {
		return err
	}
	if err := s.usage.RecordChunks(ctx, agent.TenantID, len(chunks)-int(removed)); err != nil {
		telemetry.CaptureError(ctx, err)
		log.Printf("ingest: failed to record chunk usage for tenant %s: %v", agent.TenantID, err)
	}

	return s.jobs.MarkSucceeded(ctx, job.ID)
}

// extractText produces the plain text to index. Reindex jobs reuse cached
// extracted text when available instead of re-running extraction.
func (s *IngestService) extractText(ctx context.Context, source *domain.KnowledgeSource, reindex bool, raw []byte) (string, error) {
	if reindex && source.ExtractedKey != "" && s.blobs != nil {
		data, err := s.blobs.GetObject(ctx, source.ExtractedKey)
		if err == nil {
			return extract.PlainText(data)
		}
		telemetry.CaptureError(ctx, err)
		log.Printf("ingest: cached extract missing for source %s, re-extracting: %v", source.ID, err)
	}

	if source.Kind == domain.SourceKindURL {
		page, err := s.fetcher.Fetch(ctx, source.SourceURI)
		if err != nil {
			return "", err
		}
		return extract.HTML(page)
	}

	if raw == nil {
		if source.StorageKey == "" || s.blobs == nil {
			return "", domain.NewExtractionError("source has no stored payload", nil)
		}
		data, err := s.blobs.GetObject(ctx, source.StorageKey)
		if err != nil {
			return "", domain.NewStorageError("failed to load source payload", err)
		}
		raw = data
	}

	return extract.FromSource(source.Kind, raw)
}

// settleFailure records a failed run on both the job and the source. The
// original pipeline error message travels to the job row so operators can
// see why an ingest failed without log-diving.
func (s *IngestService) settleFailure(ctx context.Context, job *domain.IngestJob, cause error) error {
	log.Printf("ingest: job %s for source %s failed: %v", job.ID, job.SourceID, cause)

	if err := s.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		telemetry.CaptureError(ctx, err)
		return err
	}
	if err := s.sources.MarkFailed(ctx, job.SourceID); err != nil {
		telemetry.CaptureError(ctx, err)
		return err
	}
	return nil
}
