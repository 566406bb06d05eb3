package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/storage"
)

type sourceFixture struct {
	sources    *MockSourceRepository
	jobs       *MockIngestJobRepository
	agents     *MockAgentRepository
	tenants    *MockTenantRepository
	usage      *MockUsageRepository
	blobs      *MockBlobStore
	index      *MockVectorIndex
	dispatcher *MockDispatcher
	svc        *SourceService

	tenantID uuid.UUID
	agentID  uuid.UUID
	agent    *domain.Agent
	tenant   *domain.Tenant
}

func newSourceFixture(t *testing.T) *sourceFixture {
	t.Helper()

	f := &sourceFixture{
		sources:    new(MockSourceRepository),
		jobs:       new(MockIngestJobRepository),
		agents:     new(MockAgentRepository),
		tenants:    new(MockTenantRepository),
		usage:      new(MockUsageRepository),
		blobs:      new(MockBlobStore),
		index:      new(MockVectorIndex),
		dispatcher: new(MockDispatcher),
		tenantID:   uuid.New(),
		agentID:    uuid.New(),
	}

	now := time.Now().UTC()
	f.agent = domain.NewAgent(f.agentID.String(), f.tenantID.String(), "support bot", "", now)
	f.tenant = &domain.Tenant{
		ID:        f.tenantID.String(),
		Name:      "acme",
		Tier:      domain.TenantTierFree,
		CreatedAt: now,
	}

	quota := NewQuotaPolicy(
		domain.QuotaLimits{StorageBytes: 2 << 20, Files: 5},
		domain.QuotaLimits{StorageBytes: 50 << 20, Files: 50},
		domain.QuotaLimits{StorageBytes: 100 << 20, Files: 999999},
	)

	txRunner := &fakeTxRunner{sources: f.sources, jobs: f.jobs}
	f.svc = NewSourceService(
		f.sources, f.jobs, f.agents, f.tenants, f.usage,
		f.blobs, f.index, quota, f.dispatcher, txRunner,
	)
	return f
}

func TestSourceService_AddSource(t *testing.T) {
	ctx := context.Background()

	t.Run("creates source and job and dispatches", func(t *testing.T) {
		f := newSourceFixture(t)
		sourceID := uuid.NewString()
		jobID := uuid.NewString()
		f.svc.WithUUIDGen(NewMockUUIDGenerator(sourceID, jobID))
		content := []byte("Pasted knowledge text.")

		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.tenants.On("GetByID", mock.Anything, f.tenant.ID).Return(f.tenant, nil)
		f.usage.On("Get", mock.Anything, f.tenant.ID).
			Return(&domain.TenantUsage{TenantID: f.tenant.ID}, nil)

		wantKey := storage.OriginalKey(f.tenantID, f.agentID, uuid.MustParse(sourceID), domain.SourceKindText)
		f.blobs.On("PutObject", mock.Anything, wantKey, content, "text/plain").Return(nil)
		f.sources.On("Create", mock.Anything, mock.MatchedBy(func(s *domain.KnowledgeSource) bool {
			return s.ID == sourceID &&
				s.AgentID == f.agent.ID &&
				s.Status == domain.SourceStatusPending &&
				s.RawBytes == int64(len(content)) &&
				s.StorageKey == wantKey
		})).Return(nil)
		f.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.IngestJob) bool {
			return j.ID == jobID && j.SourceID == sourceID &&
				j.State == domain.JobStateQueued && !j.Reindex
		})).Return(nil)
		f.usage.On("RecordUpload", mock.Anything, f.tenant.ID, int64(len(content))).Return(nil)
		f.dispatcher.On("Dispatch", mock.MatchedBy(func(j *domain.IngestJob) bool {
			return j.ID == jobID
		}), content).Return()

		out, err := f.svc.AddSource(ctx, AddSourceInput{
			TenantID: f.tenant.ID,
			AgentID:  f.agent.ID,
			Kind:     domain.SourceKindText,
			Title:    "handbook",
			Content:  content,
		})
		require.NoError(t, err)
		assert.Equal(t, sourceID, out.Source.ID)
		assert.Equal(t, jobID, out.Job.ID)
		f.dispatcher.AssertExpectations(t)
		f.sources.AssertExpectations(t)
		f.jobs.AssertExpectations(t)
	})

	t.Run("rejects agent owned by another tenant", func(t *testing.T) {
		f := newSourceFixture(t)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)

		_, err := f.svc.AddSource(ctx, AddSourceInput{
			TenantID: uuid.NewString(),
			AgentID:  f.agent.ID,
			Kind:     domain.SourceKindText,
			Title:    "handbook",
			Content:  []byte("text"),
		})
		assert.ErrorIs(t, err, domain.ErrNotOwner)
		f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("rejects when file quota is reached", func(t *testing.T) {
		f := newSourceFixture(t)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.tenants.On("GetByID", mock.Anything, f.tenant.ID).Return(f.tenant, nil)
		f.usage.On("Get", mock.Anything, f.tenant.ID).
			Return(&domain.TenantUsage{TenantID: f.tenant.ID, TotalFiles: 5}, nil)

		_, err := f.svc.AddSource(ctx, AddSourceInput{
			TenantID: f.tenant.ID,
			AgentID:  f.agent.ID,
			Kind:     domain.SourceKindText,
			Title:    "handbook",
			Content:  []byte("text"),
		})
		assert.ErrorIs(t, err, domain.ErrFileQuotaExceeded)
		f.sources.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects when storage quota is exceeded", func(t *testing.T) {
		f := newSourceFixture(t)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.tenants.On("GetByID", mock.Anything, f.tenant.ID).Return(f.tenant, nil)
		f.usage.On("Get", mock.Anything, f.tenant.ID).
			Return(&domain.TenantUsage{TenantID: f.tenant.ID, TotalSizeBytes: 2 << 20}, nil)

		_, err := f.svc.AddSource(ctx, AddSourceInput{
			TenantID: f.tenant.ID,
			AgentID:  f.agent.ID,
			Kind:     domain.SourceKindText,
			Title:    "handbook",
			Content:  []byte("text"),
		})
		assert.ErrorIs(t, err, domain.ErrStorageQuotaExceeded)
	})

	t.Run("validates inputs per kind", func(t *testing.T) {
		f := newSourceFixture(t)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)

		cases := []struct {
			name  string
			input AddSourceInput
		}{
			{"url without uri", AddSourceInput{Kind: domain.SourceKindURL, Title: "t"}},
			{"url not absolute", AddSourceInput{Kind: domain.SourceKindURL, Title: "t", SourceURI: "/relative/path"}},
			{"text without content", AddSourceInput{Kind: domain.SourceKindText, Title: "t"}},
			{"upload without content", AddSourceInput{Kind: domain.SourceKindUploadPDF, Title: "t"}},
			{"missing title", AddSourceInput{Kind: domain.SourceKindText, Content: []byte("x")}},
			{"unknown kind", AddSourceInput{Kind: domain.SourceKind("bogus"), Title: "t", Content: []byte("x")}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				tc.input.TenantID = f.tenant.ID
				tc.input.AgentID = f.agent.ID
				_, err := f.svc.AddSource(ctx, tc.input)
				require.Error(t, err)
				assert.True(t, domain.IsErrorCode(err, domain.ErrCodeValidation), "got %v", err)
			})
		}
	})
}

func TestSourceService_Reindex(t *testing.T) {
	ctx := context.Background()

	t.Run("queues a reindex job", func(t *testing.T) {
		f := newSourceFixture(t)
		source := domain.NewKnowledgeSource(uuid.NewString(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.IngestJob) bool {
			return j.SourceID == source.ID && j.Reindex && j.State == domain.JobStateQueued
		})).Return(nil)
		f.dispatcher.On("Dispatch", mock.Anything, []byte(nil)).Return()

		job, err := f.svc.Reindex(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		assert.True(t, job.Reindex)
		f.jobs.AssertExpectations(t)
		f.dispatcher.AssertExpectations(t)
	})

	t.Run("unknown source", func(t *testing.T) {
		f := newSourceFixture(t)
		f.sources.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrSourceNotFound)

		_, err := f.svc.Reindex(ctx, f.tenant.ID, "missing")
		assert.ErrorIs(t, err, domain.ErrSourceNotFound)
	})
}

func TestSourceService_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("returns source with latest job", func(t *testing.T) {
		f := newSourceFixture(t)
		source := domain.NewKnowledgeSource(uuid.NewString(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())
		job := domain.NewIngestJob(uuid.NewString(), source.ID, false, time.Now().UTC())

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.jobs.On("LatestBySource", mock.Anything, source.ID).Return(job, nil)

		status, err := f.svc.GetStatus(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		assert.Equal(t, source, status.Source)
		assert.Equal(t, job, status.LatestJob)
	})

	t.Run("source without a job yields nil latest job", func(t *testing.T) {
		f := newSourceFixture(t)
		source := domain.NewKnowledgeSource(uuid.NewString(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.jobs.On("LatestBySource", mock.Anything, source.ID).Return(nil, domain.ErrJobNotFound)

		status, err := f.svc.GetStatus(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		assert.Nil(t, status.LatestJob)
	})
}

func TestSourceService_DeleteSource(t *testing.T) {
	ctx := context.Background()

	t.Run("removes vectors, objects, rows and releases quota", func(t *testing.T) {
		f := newSourceFixture(t)
		sourceID := uuid.New()
		source := domain.NewKnowledgeSource(sourceID.String(), f.agent.ID, domain.SourceKindUploadTxt, "handbook", time.Now().UTC())
		source.StorageKey = "tenant_x/agent_y/src_z_original.txt"
		source.ExtractedKey = "tenant_x/agent_y/src_z_extracted.txt"
		source.RawBytes = 512

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.index.On("DeleteForSource", mock.Anything, f.agent.VectorNamespace, sourceID).Return(int64(7), nil)
		f.blobs.On("DeleteObject", mock.Anything, source.StorageKey).Return(nil)
		f.blobs.On("DeleteObject", mock.Anything, source.ExtractedKey).Return(nil)
		f.sources.On("Delete", mock.Anything, source.ID).Return(nil)
		f.usage.On("RecordDeletion", mock.Anything, f.tenant.ID, int64(512)).Return(nil)
		f.usage.On("RecordChunks", mock.Anything, f.tenant.ID, -7).Return(nil)

		err := f.svc.DeleteSource(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		f.index.AssertExpectations(t)
		f.blobs.AssertExpectations(t)
		f.usage.AssertExpectations(t)
	})

	t.Run("vector cleanup failure does not block the delete", func(t *testing.T) {
		f := newSourceFixture(t)
		sourceID := uuid.New()
		source := domain.NewKnowledgeSource(sourceID.String(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())
		source.RawBytes = 64
		indexErr := errors.New("index unavailable")

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.index.On("DeleteForSource", mock.Anything, f.agent.VectorNamespace, sourceID).Return(int64(0), indexErr)
		f.sources.On("Delete", mock.Anything, source.ID).Return(nil)
		f.usage.On("RecordDeletion", mock.Anything, f.tenant.ID, int64(64)).Return(nil)

		err := f.svc.DeleteSource(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		f.sources.AssertExpectations(t)
		f.usage.AssertNotCalled(t, "RecordChunks", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("blob cleanup failures do not block the delete", func(t *testing.T) {
		f := newSourceFixture(t)
		sourceID := uuid.New()
		source := domain.NewKnowledgeSource(sourceID.String(), f.agent.ID, domain.SourceKindUploadTxt, "handbook", time.Now().UTC())
		source.StorageKey = "some/key.txt"

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.index.On("DeleteForSource", mock.Anything, f.agent.VectorNamespace, sourceID).Return(int64(0), nil)
		f.blobs.On("DeleteObject", mock.Anything, source.StorageKey).Return(errors.New("s3 unavailable"))
		f.sources.On("Delete", mock.Anything, source.ID).Return(nil)
		f.usage.On("RecordDeletion", mock.Anything, f.tenant.ID, int64(0)).Return(nil)

		err := f.svc.DeleteSource(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		f.sources.AssertExpectations(t)
	})
}

func TestSourceService_GetContent(t *testing.T) {
	ctx := context.Background()

	t.Run("returns extracted text", func(t *testing.T) {
		f := newSourceFixture(t)
		source := domain.NewKnowledgeSource(uuid.NewString(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())
		source.ExtractedKey = "key"

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
		f.blobs.On("GetObject", mock.Anything, "key").Return([]byte("extracted"), nil)

		text, err := f.svc.GetContent(ctx, f.tenant.ID, source.ID)
		require.NoError(t, err)
		assert.Equal(t, "extracted", text)
	})

	t.Run("pending source has no content", func(t *testing.T) {
		f := newSourceFixture(t)
		source := domain.NewKnowledgeSource(uuid.NewString(), f.agent.ID, domain.SourceKindText, "handbook", time.Now().UTC())

		f.sources.On("GetByID", mock.Anything, source.ID).Return(source, nil)
		f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)

		_, err := f.svc.GetContent(ctx, f.tenant.ID, source.ID)
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeNotFound))
	})
}

func TestSourceService_ListSources(t *testing.T) {
	ctx := context.Background()

	f := newSourceFixture(t)
	page := &SourcePageResult{
		Items:   []*domain.KnowledgeSource{},
		HasMore: false,
	}

	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.sources.On("ListByAgentWithCursor", mock.Anything, f.agent.ID, mock.Anything, 25).Return(page, nil)

	got, err := f.svc.ListSources(ctx, ListSourcesInput{
		TenantID: f.tenant.ID,
		AgentID:  f.agent.ID,
		Limit:    25,
	})
	require.NoError(t, err)
	assert.Equal(t, page, got)
}
