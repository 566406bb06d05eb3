// Package vector implements the namespace-scoped chunk store on Postgres
// with the pgvector extension. Every operation is scoped to a namespace;
// callers never see another tenant's chunks.
package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/groundplane/groundplane/internal/domain"
)

// Chunk is a single embedded fragment of a knowledge source.
type Chunk struct {
	ID        uuid.UUID
	Namespace string
	SourceID  uuid.UUID
	AgentID   uuid.UUID
	Index     int
	Content   string
	Embedding []float32
}

// Match is a search hit with its similarity score (1 = identical direction).
type Match struct {
	SourceID uuid.UUID
	Index    int
	Content  string
	Score    float64
}

// Store persists and searches chunks in the source_chunks table.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int

	initOnce sync.Once
	initErr  error
}

func NewStore(pool *pgxpool.Pool, dimensions int) *Store {
	return &Store{pool: pool, dimensions: dimensions}
}

// EnsureSchema creates the vector extension, the chunk table and its indexes
// if they do not exist. It runs at most once per Store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		stmts := []string{
			`CREATE EXTENSION IF NOT EXISTS vector`,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS source_chunks (
				id UUID PRIMARY KEY,
				namespace TEXT NOT NULL,
				source_id UUID NOT NULL,
				agent_id UUID NOT NULL,
				chunk_index INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, s.dimensions),
			`CREATE INDEX IF NOT EXISTS idx_source_chunks_namespace ON source_chunks (namespace)`,
			`CREATE INDEX IF NOT EXISTS idx_source_chunks_source ON source_chunks (source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_source_chunks_embedding ON source_chunks
				USING hnsw (embedding vector_cosine_ops)`,
		}
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				s.initErr = domain.NewVectorStoreError("failed to ensure chunk schema", err)
				return
			}
		}
	})
	return s.initErr
}

// Upsert inserts the given chunks. Chunks for the same source should be
// deleted first when re-indexing; IDs are fresh per ingest run.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if c.Namespace == "" {
			return domain.ErrMissingNamespace
		}
		if len(c.Embedding) != s.dimensions {
			return domain.NewVectorStoreError(
				fmt.Sprintf("embedding width %d does not match store width %d", len(c.Embedding), s.dimensions), nil)
		}
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO source_chunks
				(id, namespace, source_id, agent_id, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.Namespace, c.SourceID, c.AgentID, c.Index, c.Content,
			pgvector.NewVector(c.Embedding), now,
		)
		if err != nil {
			return domain.NewVectorStoreError("failed to insert chunk", err)
		}
	}
	return nil
}

// Search returns the topK most similar chunks within the namespace, best
// score first.
func (s *Store) Search(ctx context.Context, namespace string, query []float32, topK int) ([]Match, error) {
	if namespace == "" {
		return nil, domain.ErrMissingNamespace
	}
	if topK <= 0 {
		topK = domain.DefaultRetrievalTopK
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_id, chunk_index, content,
		        1.0 - (embedding <=> $1) AS score
		 FROM source_chunks
		 WHERE namespace = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(query), namespace, topK,
	)
	if err != nil {
		return nil, domain.NewVectorStoreError("failed to search chunks", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.SourceID, &m.Index, &m.Content, &m.Score); err != nil {
			return nil, domain.NewVectorStoreError("failed to scan chunk row", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewVectorStoreError("failed to read chunk rows", err)
	}
	return matches, nil
}

// DeleteForSource removes every chunk of one source within the namespace and
// returns how many were removed.
func (s *Store) DeleteForSource(ctx context.Context, namespace string, sourceID uuid.UUID) (int64, error) {
	if namespace == "" {
		return 0, domain.ErrMissingNamespace
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM source_chunks WHERE namespace = $1 AND source_id = $2`,
		namespace, sourceID,
	)
	if err != nil {
		return 0, domain.NewVectorStoreError("failed to delete source chunks", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNamespace removes every chunk in the namespace. Used when an agent
// is deleted.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, domain.ErrMissingNamespace
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM source_chunks WHERE namespace = $1`, namespace,
	)
	if err != nil {
		return 0, domain.NewVectorStoreError("failed to delete namespace chunks", err)
	}
	return tag.RowsAffected(), nil
}

// CountForSource returns the number of stored chunks for a source.
func (s *Store) CountForSource(ctx context.Context, namespace string, sourceID uuid.UUID) (int, error) {
	if namespace == "" {
		return 0, domain.ErrMissingNamespace
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM source_chunks WHERE namespace = $1 AND source_id = $2`,
		namespace, sourceID,
	).Scan(&count)
	if err != nil {
		return 0, domain.NewVectorStoreError("failed to count source chunks", err)
	}
	return count, nil
}
