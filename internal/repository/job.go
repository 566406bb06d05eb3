package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundplane/groundplane/internal/domain"
)

// ErrJobNotClaimable is returned when a job cannot move to running, either
// because it already left the queued state or because another job for the
// same source is still running.
var ErrJobNotClaimable = errors.New("ingest job is not claimable")

type IngestJobRepository struct {
	db dbtx
}

func NewIngestJobRepository(pool *pgxpool.Pool) *IngestJobRepository {
	return &IngestJobRepository{db: pool}
}

func NewIngestJobRepositoryWithTx(tx pgx.Tx) *IngestJobRepository {
	return &IngestJobRepository{db: tx}
}

const jobColumns = `id, source_id, state, error, reindex, created_at, updated_at`

func (r *IngestJobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	var errPtr *string
	if job.Error != "" {
		errPtr = &job.Error
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingest_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.SourceID, job.State, errPtr, job.Reindex, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (r *IngestJobRepository) GetByID(ctx context.Context, id string) (*domain.IngestJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// LatestBySource returns the most recently created job for a source.
func (r *IngestJobRepository) LatestBySource(ctx context.Context, sourceID string) (*domain.IngestJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs
		 WHERE source_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *IngestJobRepository) ListBySource(ctx context.Context, sourceID string) ([]*domain.IngestJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs
		 WHERE source_id = $1 ORDER BY created_at DESC, id DESC`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.IngestJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a queued job to running. The update refuses when a
// sibling job for the same source is already running, so ingests for one
// source never interleave.
func (r *IngestJobRepository) MarkRunning(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingest_jobs SET state = $1, updated_at = $2
		 WHERE id = $3 AND state = $4
		   AND NOT EXISTS (
			 SELECT 1 FROM ingest_jobs sibling
			 WHERE sibling.source_id = ingest_jobs.source_id
			   AND sibling.state = $1
			   AND sibling.id <> ingest_jobs.id
		   )`,
		domain.JobStateRunning, time.Now().UTC(), id, domain.JobStateQueued,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

// MarkSucceeded completes a running job.
func (r *IngestJobRepository) MarkSucceeded(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.JobStateSucceeded, "")
}

// MarkFailed completes a running job with an error message.
func (r *IngestJobRepository) MarkFailed(ctx context.Context, id, message string) error {
	if message == "" {
		message = "ingest failed"
	}
	return r.finish(ctx, id, domain.JobStateFailed, message)
}

func (r *IngestJobRepository) finish(ctx context.Context, id string, state domain.JobState, message string) error {
	var errPtr *string
	if message != "" {
		errPtr = &message
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingest_jobs SET state = $1, error = $2, updated_at = $3
		 WHERE id = $4 AND state = $5`,
		state, errPtr, time.Now().UTC(), id, domain.JobStateRunning,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrInvalidJobState
	}
	return nil
}

// ClaimQueued atomically claims up to limit queued jobs, oldest first,
// skipping rows locked by concurrent claimers and sources that already have
// a running job. Claimed jobs are returned in the running state.
func (r *IngestJobRepository) ClaimQueued(ctx context.Context, limit int) ([]*domain.IngestJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH claimable AS (
			 SELECT id FROM ingest_jobs
			 WHERE state = $1
			   AND NOT EXISTS (
				 SELECT 1 FROM ingest_jobs running
				 WHERE running.source_id = ingest_jobs.source_id
				   AND running.state = $2
			   )
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $3
		 )
		 UPDATE ingest_jobs
		 SET state = $2, updated_at = $4
		 FROM claimable
		 WHERE ingest_jobs.id = claimable.id
		 RETURNING ingest_jobs.id, ingest_jobs.source_id, ingest_jobs.state,
		           ingest_jobs.error, ingest_jobs.reindex,
		           ingest_jobs.created_at, ingest_jobs.updated_at`,
		domain.JobStateQueued, domain.JobStateRunning, limit, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.IngestJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.IngestJob, error) {
	var job domain.IngestJob
	var errMsg pgtype.Text
	err := row.Scan(&job.ID, &job.SourceID, &job.State, &errMsg, &job.Reindex,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
