package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/pagination"
	"github.com/groundplane/groundplane/internal/service"
)

type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

const sourceColumns = `id, agent_id, kind, title, source_uri, storage_key, extracted_key,
	raw_bytes, extracted_bytes, chunk_count, status, created_at, updated_at`

func (r *SourceRepository) Create(ctx context.Context, s *domain.KnowledgeSource) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_sources (`+sourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.AgentID, s.Kind, s.Title,
		nullableString(s.SourceURI), nullableString(s.StorageKey), nullableString(s.ExtractedKey),
		s.RawBytes, s.ExtractedBytes, s.ChunkCount, s.Status, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM knowledge_sources WHERE id = $1`, id)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SourceRepository) ListByAgent(ctx context.Context, agentID string) ([]*domain.KnowledgeSource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM knowledge_sources
		 WHERE agent_id = $1 ORDER BY updated_at DESC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceRows(rows)
}

func (r *SourceRepository) ListByAgentWithCursor(ctx context.Context, agentID string, cursor *pagination.Cursor, limit int) (*service.SourcePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+sourceColumns+` FROM knowledge_sources
			 WHERE agent_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			agentID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+sourceColumns+` FROM knowledge_sources
			 WHERE agent_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			agentID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanSourceRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.SourcePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *SourceRepository) Update(ctx context.Context, s *domain.KnowledgeSource) error {
	s.UpdatedAt = time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET title = $1, source_uri = $2, storage_key = $3, extracted_key = $4,
		     raw_bytes = $5, extracted_bytes = $6, chunk_count = $7, status = $8, updated_at = $9
		 WHERE id = $10`,
		s.Title, nullableString(s.SourceURI), nullableString(s.StorageKey), nullableString(s.ExtractedKey),
		s.RawBytes, s.ExtractedBytes, s.ChunkCount, s.Status, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// MarkReady records a successful ingest: the source becomes queryable and
// carries the number of indexed chunks and its extracted text location.
func (r *SourceRepository) MarkReady(ctx context.Context, id string, chunkCount int, extractedKey string, extractedBytes int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET status = $1, chunk_count = $2, extracted_key = $3, extracted_bytes = $4, updated_at = $5
		 WHERE id = $6`,
		domain.SourceStatusReady, chunkCount, nullableString(extractedKey), extractedBytes,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// MarkFailed flags the source as failed without touching its stored content.
func (r *SourceRepository) MarkFailed(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources SET status = $1, updated_at = $2 WHERE id = $3`,
		domain.SourceStatusFailed, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

func (r *SourceRepository) DeleteByAgent(ctx context.Context, agentID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_sources WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func scanSource(row pgx.Row) (*domain.KnowledgeSource, error) {
	var s domain.KnowledgeSource
	var sourceURI, storageKey, extractedKey *string
	err := row.Scan(&s.ID, &s.AgentID, &s.Kind, &s.Title, &sourceURI, &storageKey, &extractedKey,
		&s.RawBytes, &s.ExtractedBytes, &s.ChunkCount, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sourceURI != nil {
		s.SourceURI = *sourceURI
	}
	if storageKey != nil {
		s.StorageKey = *storageKey
	}
	if extractedKey != nil {
		s.ExtractedKey = *extractedKey
	}
	return &s, nil
}

func scanSourceRows(rows pgx.Rows) ([]*domain.KnowledgeSource, error) {
	var results []*domain.KnowledgeSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
