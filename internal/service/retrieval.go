package service

import (
	"context"
	"strings"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/embedding"
	"github.com/groundplane/groundplane/internal/telemetry"
	"github.com/groundplane/groundplane/internal/vector"
)

// DefaultContextChars caps the retrieval context handed to the chat model.
const DefaultContextChars = 6000

// RetrievalService turns a chat query into a bounded context block built
// from the agent's indexed knowledge.
type RetrievalService struct {
	index        VectorIndex
	embedder     embedding.Provider
	contextChars int
}

func NewRetrievalService(index VectorIndex, embedder embedding.Provider, contextChars int) *RetrievalService {
	if contextChars <= 0 {
		contextChars = DefaultContextChars
	}
	return &RetrievalService{
		index:        index,
		embedder:     embedder,
		contextChars: contextChars,
	}
}

// RetrievalResult carries the assembled context and the matches behind it.
type RetrievalResult struct {
	Context string
	Matches []vector.Match
}

// Retrieve embeds the query, searches the agent's namespace and packs the
// best matches into a context block. Agents with retrieval disabled or no
// configured namespace get an empty result rather than an error.
func (s *RetrievalService) Retrieve(ctx context.Context, agent *domain.Agent, query string) (*RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		TenantID:  agent.TenantID,
		AgentID:   agent.ID,
		Operation: "retrieve",
	})
	defer span.End()

	if !agent.RetrievalEnabled {
		return &RetrievalResult{}, nil
	}
	if agent.VectorNamespace == "" {
		return &RetrievalResult{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query is required")
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.NewVectorStoreError("failed to embed query", err)
	}

	topK := agent.RetrievalTopK
	if topK <= 0 {
		topK = domain.DefaultRetrievalTopK
	}

	matches, err := s.index.Search(ctx, agent.VectorNamespace, queryVec, topK)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Content
	}

	return &RetrievalResult{
		Context: FormatContext(texts, s.contextChars),
		Matches: matches,
	}, nil
}

// FormatContext joins texts with blank lines, keeping the result within
// maxChars. Packing stops at the first text that would overflow, preserving
// relevance order rather than greedily filling the budget.
func FormatContext(texts []string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}

	var sb strings.Builder
	for _, text := range texts {
		if text == "" {
			continue
		}
		needed := len(text)
		if sb.Len() > 0 {
			needed += 2 // separator
		}
		if sb.Len()+needed > maxChars {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String()
}
