package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/pagination"
)

type TenantRepository struct {
	pool *pgxpool.Pool
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, tier, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Tier, t.CreatedAt,
	)
	return err
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, tier, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, tier, created_at FROM tenants WHERE name = $1`, name,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListWithCursor pages through all tenants, newest first.
func (r *TenantRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Tenant], error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT id, name, tier, created_at FROM tenants
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT id, name, tier, created_at FROM tenants
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Tier, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &pagination.PageResult[*domain.Tenant]{
		Items:   items,
		Cursor:  nextCursor,
		HasMore: hasMore,
	}, nil
}

func (r *TenantRepository) UpdateTier(ctx context.Context, id string, tier domain.TenantTier) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE tenants SET tier = $1 WHERE id = $2`, tier, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// UsageRepository tracks per-tenant storage counters. Rows are created
// lazily on first write.
type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

func (r *UsageRepository) Get(ctx context.Context, tenantID string) (*domain.TenantUsage, error) {
	var u domain.TenantUsage
	err := r.pool.QueryRow(ctx,
		`SELECT tenant_id, total_files, total_size_bytes, total_chunks, updated_at
		 FROM tenant_usage WHERE tenant_id = $1`, tenantID,
	).Scan(&u.TenantID, &u.TotalFiles, &u.TotalSizeBytes, &u.TotalChunks, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.TenantUsage{TenantID: tenantID}, nil
		}
		return nil, err
	}
	return &u, nil
}

// RecordUpload adds one file and its byte size to the tenant's counters.
// Counters are charged at upload time and are not rolled back when a later
// ingest job fails.
func (r *UsageRepository) RecordUpload(ctx context.Context, tenantID string, sizeBytes int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenant_usage (tenant_id, total_files, total_size_bytes, total_chunks, updated_at)
		 VALUES ($1, 1, $2, 0, $3)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET total_files = tenant_usage.total_files + 1,
		     total_size_bytes = tenant_usage.total_size_bytes + $2,
		     updated_at = $3`,
		tenantID, sizeBytes, time.Now().UTC(),
	)
	return err
}

// RecordChunks adjusts the tenant's indexed chunk counter by delta (negative
// when chunks are removed).
func (r *UsageRepository) RecordChunks(ctx context.Context, tenantID string, delta int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenant_usage (tenant_id, total_files, total_size_bytes, total_chunks, updated_at)
		 VALUES ($1, 0, 0, GREATEST($2, 0), $3)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET total_chunks = GREATEST(tenant_usage.total_chunks + $2, 0),
		     updated_at = $3`,
		tenantID, delta, time.Now().UTC(),
	)
	return err
}

// RecordDeletion releases a deleted source's file count and bytes.
func (r *UsageRepository) RecordDeletion(ctx context.Context, tenantID string, sizeBytes int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tenant_usage
		 SET total_files = GREATEST(total_files - 1, 0),
		     total_size_bytes = GREATEST(total_size_bytes - $2, 0),
		     updated_at = $3
		 WHERE tenant_id = $1`,
		tenantID, sizeBytes, time.Now().UTC(),
	)
	return err
}
