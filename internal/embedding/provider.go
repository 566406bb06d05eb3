// Package embedding defines the provider abstraction used by ingest and
// retrieval. Documents and queries are embedded separately so providers
// that distinguish the two intents (e.g. Gemini task types) can use them.
package embedding

import "context"

// Provider produces vector embeddings for text.
type Provider interface {
	// EmbedDocuments embeds texts destined for the vector store, preserving
	// input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector width this provider produces.
	Dimensions() int
}
