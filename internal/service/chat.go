package service

import (
	"context"
	"strings"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/openai"
	"github.com/groundplane/groundplane/internal/telemetry"
)

// ChatCompleter produces an assistant reply from a conversation.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []openai.ChatMessage) (string, error)
}

// ChatService answers user messages with the agent's instructions, retrieved
// knowledge context and short-lived conversation memory.
type ChatService struct {
	agents    AgentRepositoryInterface
	retrieval *RetrievalService
	completer ChatCompleter
	sessions  *SessionCache
}

func NewChatService(
	agents AgentRepositoryInterface,
	retrieval *RetrievalService,
	completer ChatCompleter,
	sessions *SessionCache,
) *ChatService {
	return &ChatService{
		agents:    agents,
		retrieval: retrieval,
		completer: completer,
		sessions:  sessions,
	}
}

type ChatInput struct {
	TenantID  string
	AgentID   string
	SessionID string
	Message   string
}

type ChatOutput struct {
	Reply        string
	ContextUsed  bool
	MatchedCount int
}

func (s *ChatService) Chat(ctx context.Context, input ChatInput) (*ChatOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Chat", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		AgentID:   input.AgentID,
		Operation: "chat",
	})
	defer span.End()

	if strings.TrimSpace(input.Message) == "" {
		return nil, domain.NewValidationError("message is required")
	}
	if input.SessionID == "" {
		return nil, domain.NewValidationError("session id is required")
	}

	agent, err := s.agents.GetByID(ctx, input.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.TenantID != input.TenantID {
		return nil, domain.ErrNotOwner
	}

	result, err := s.retrieval.Retrieve(ctx, agent, input.Message)
	if err != nil {
		return nil, err
	}

	messages := []openai.ChatMessage{
		{Role: "system", Content: systemPrompt(agent, result.Context)},
	}
	for _, m := range s.sessions.History(input.TenantID, input.AgentID, input.SessionID) {
		messages = append(messages, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatMessage{Role: "user", Content: input.Message})

	reply, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "chat completion failed", err)
	}

	s.sessions.Append(input.TenantID, input.AgentID, input.SessionID,
		SessionMessage{Role: "user", Content: input.Message},
		SessionMessage{Role: "assistant", Content: reply},
	)

	return &ChatOutput{
		Reply:        reply,
		ContextUsed:  result.Context != "",
		MatchedCount: len(result.Matches),
	}, nil
}

func systemPrompt(agent *domain.Agent, knowledgeContext string) string {
	var sb strings.Builder
	if agent.Instructions != "" {
		sb.WriteString(agent.Instructions)
	} else {
		sb.WriteString("You are a helpful assistant.")
	}
	if knowledgeContext != "" {
		sb.WriteString("\n\nUse the following knowledge to answer. ")
		sb.WriteString("If the knowledge does not cover the question, say so instead of guessing.\n\n")
		sb.WriteString(knowledgeContext)
	}
	return sb.String()
}
