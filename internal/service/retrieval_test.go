package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/vector"
)

func retrievalAgent() *domain.Agent {
	return domain.NewAgent(uuid.NewString(), uuid.NewString(), "support bot", "", time.Now().UTC())
}

func TestRetrievalService_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles context from matches in relevance order", func(t *testing.T) {
		index := new(MockVectorIndex)
		embedder := new(MockEmbedder)
		svc := NewRetrievalService(index, embedder, 6000)
		agent := retrievalAgent()

		queryVec := []float32{0.1, 0.2}
		matches := []vector.Match{
			{Content: "Refunds take 5 days.", Score: 0.92},
			{Content: "Contact support by email.", Score: 0.81},
		}

		embedder.On("EmbedQuery", mock.Anything, "refund policy").Return(queryVec, nil)
		index.On("Search", mock.Anything, agent.VectorNamespace, queryVec, domain.DefaultRetrievalTopK).
			Return(matches, nil)

		result, err := svc.Retrieve(ctx, agent, "refund policy")
		require.NoError(t, err)
		assert.Equal(t, "Refunds take 5 days.\n\nContact support by email.", result.Context)
		assert.Len(t, result.Matches, 2)
	})

	t.Run("agent top-k overrides the default", func(t *testing.T) {
		index := new(MockVectorIndex)
		embedder := new(MockEmbedder)
		svc := NewRetrievalService(index, embedder, 6000)
		agent := retrievalAgent()
		agent.RetrievalTopK = 9

		embedder.On("EmbedQuery", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
		index.On("Search", mock.Anything, agent.VectorNamespace, mock.Anything, 9).
			Return([]vector.Match{}, nil)

		_, err := svc.Retrieve(ctx, agent, "anything")
		require.NoError(t, err)
		index.AssertExpectations(t)
	})

	t.Run("retrieval disabled yields empty result without embedding", func(t *testing.T) {
		index := new(MockVectorIndex)
		embedder := new(MockEmbedder)
		svc := NewRetrievalService(index, embedder, 6000)
		agent := retrievalAgent()
		agent.RetrievalEnabled = false

		result, err := svc.Retrieve(ctx, agent, "refund policy")
		require.NoError(t, err)
		assert.Empty(t, result.Context)
		assert.Empty(t, result.Matches)
		embedder.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
	})

	t.Run("missing namespace yields empty result without searching", func(t *testing.T) {
		index := new(MockVectorIndex)
		embedder := new(MockEmbedder)
		svc := NewRetrievalService(index, embedder, 6000)
		agent := retrievalAgent()
		agent.VectorNamespace = ""

		result, err := svc.Retrieve(ctx, agent, "refund policy")
		require.NoError(t, err)
		assert.Empty(t, result.Context)
		assert.Empty(t, result.Matches)
		embedder.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
		index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("blank query is rejected", func(t *testing.T) {
		svc := NewRetrievalService(new(MockVectorIndex), new(MockEmbedder), 6000)

		_, err := svc.Retrieve(ctx, retrievalAgent(), "   ")
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeValidation))
	})
}

func TestFormatContext(t *testing.T) {
	t.Run("joins texts with blank lines", func(t *testing.T) {
		got := FormatContext([]string{"one", "two", "three"}, 100)
		assert.Equal(t, "one\n\ntwo\n\nthree", got)
	})

	t.Run("skips empty texts", func(t *testing.T) {
		got := FormatContext([]string{"", "one", "", "two"}, 100)
		assert.Equal(t, "one\n\ntwo", got)
	})

	t.Run("stops at the first text that would overflow", func(t *testing.T) {
		a := strings.Repeat("a", 40)
		b := strings.Repeat("b", 40)
		c := "short"
		// a fits; b would push past the cap; c fits but must not be
		// packed ahead of the more relevant b.
		got := FormatContext([]string{a, b, c}, 60)
		assert.Equal(t, a, got)
	})

	t.Run("respects the cap exactly", func(t *testing.T) {
		a := strings.Repeat("a", 10)
		b := strings.Repeat("b", 8)
		// 10 + 2 + 8 = 20
		got := FormatContext([]string{a, b}, 20)
		assert.Equal(t, a+"\n\n"+b, got)

		got = FormatContext([]string{a, b}, 19)
		assert.Equal(t, a, got)
	})

	t.Run("empty input yields empty context", func(t *testing.T) {
		assert.Empty(t, FormatContext(nil, 100))
	})
}
