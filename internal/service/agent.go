package service

import (
	"context"
	"log"
	"time"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/storage"
	"github.com/groundplane/groundplane/internal/telemetry"
)

// AgentService manages agents and their full teardown: deleting an agent
// removes its namespace from the index, its objects from storage and its
// sources from the database.
type AgentService struct {
	agents   AgentRepositoryInterface
	sources  SourceRepositoryInterface
	usage    UsageRepositoryInterface
	index    VectorIndex
	blobs    BlobStore
	sessions *SessionCache
	uuidGen  UUIDGenerator
}

func NewAgentService(
	agents AgentRepositoryInterface,
	sources SourceRepositoryInterface,
	usage UsageRepositoryInterface,
	index VectorIndex,
	blobs BlobStore,
	sessions *SessionCache,
) *AgentService {
	return &AgentService{
		agents:   agents,
		sources:  sources,
		usage:    usage,
		index:    index,
		blobs:    blobs,
		sessions: sessions,
		uuidGen:  &DefaultUUIDGenerator{},
	}
}

type CreateAgentInput struct {
	TenantID     string
	Name         string
	Instructions string
}

func (s *AgentService) Create(ctx context.Context, input CreateAgentInput) (*domain.Agent, error) {
	ctx, span := telemetry.StartSpan(ctx, "AgentService.Create", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "create_agent",
	})
	defer span.End()

	agent := domain.NewAgent(s.uuidGen.NewString(), input.TenantID, input.Name,
		input.Instructions, time.Now().UTC())
	if err := domain.ValidateAgent(agent); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.TenantID != tenantID {
		return nil, domain.ErrNotOwner
	}
	return agent, nil
}

func (s *AgentService) List(ctx context.Context, tenantID string) ([]*domain.Agent, error) {
	return s.agents.ListByTenant(ctx, tenantID)
}

type UpdateAgentInput struct {
	TenantID         string
	AgentID          string
	Name             string
	Instructions     string
	RetrievalEnabled *bool
	RetrievalTopK    *int
}

func (s *AgentService) Update(ctx context.Context, input UpdateAgentInput) (*domain.Agent, error) {
	agent, err := s.Get(ctx, input.TenantID, input.AgentID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		agent.Name = input.Name
	}
	if input.Instructions != "" {
		agent.Instructions = input.Instructions
	}
	if input.RetrievalEnabled != nil {
		agent.RetrievalEnabled = *input.RetrievalEnabled
	}
	if input.RetrievalTopK != nil {
		agent.RetrievalTopK = *input.RetrievalTopK
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := domain.ValidateAgent(agent); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Delete tears an agent down. Index and blob cleanup failures are reported
// but never block; the agent and source rows always go.
func (s *AgentService) Delete(ctx context.Context, tenantID, agentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "AgentService.Delete", telemetry.SpanAttributes{
		TenantID:  tenantID,
		AgentID:   agentID,
		Operation: "delete_agent",
	})
	defer span.End()

	agent, err := s.Get(ctx, tenantID, agentID)
	if err != nil {
		return err
	}

	removed, err := s.index.DeleteNamespace(ctx, agent.VectorNamespace)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		log.Printf("agent: failed to delete namespace %s: %v", agent.VectorNamespace, err)
		removed = 0
	}

	// Release file and byte counters for every source before the rows go.
	sources, err := s.sources.ListByAgent(ctx, agent.ID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := s.usage.RecordDeletion(ctx, tenantID, src.RawBytes); err != nil {
			telemetry.CaptureError(ctx, err)
		}
	}
	if removed > 0 {
		if err := s.usage.RecordChunks(ctx, tenantID, -int(removed)); err != nil {
			telemetry.CaptureError(ctx, err)
		}
	}

	if s.blobs != nil {
		prefix := storage.AgentPrefix(mustUUID(tenantID), mustUUID(agent.ID))
		if err := s.blobs.DeletePrefix(ctx, prefix); err != nil {
			telemetry.CaptureError(ctx, err)
			log.Printf("agent: failed to delete objects under %s: %v", prefix, err)
		}
	}

	if _, err := s.sources.DeleteByAgent(ctx, agent.ID); err != nil {
		return err
	}
	if err := s.agents.Delete(ctx, agent.ID); err != nil {
		return err
	}

	if s.sessions != nil {
		s.sessions.ForgetAgent(tenantID, agent.ID)
	}
	return nil
}
