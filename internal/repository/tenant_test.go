//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/pagination"
	"github.com/groundplane/groundplane/internal/testutil"
)

func TestTenantRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantRepo := NewTenantRepository(pool)

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Acme Support",
		Tier:      domain.TenantTierPaid,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, tenantRepo.Create(ctx, tenant))

	byID, err := tenantRepo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Name, byID.Name)
	assert.Equal(t, domain.TenantTierPaid, byID.Tier)

	byName, err := tenantRepo.GetByName(ctx, "Acme Support")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, byName.ID)

	_, err = tenantRepo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestTenantRepository_UpdateTier(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantRepo := NewTenantRepository(pool)

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Upgrader",
		Tier:      domain.TenantTierFree,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, tenantRepo.Create(ctx, tenant))

	require.NoError(t, tenantRepo.UpdateTier(ctx, tenant.ID, domain.TenantTierPro))

	updated, err := tenantRepo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TenantTierPro, updated.Tier)

	assert.ErrorIs(t, tenantRepo.UpdateTier(ctx, uuid.NewString(), domain.TenantTierPro), domain.ErrTenantNotFound)
}

func TestTenantRepository_ListWithCursor(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantRepo := NewTenantRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	for i := 0; i < 3; i++ {
		tenant := &domain.Tenant{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("Tenant %d", i),
			Tier:      domain.TenantTierFree,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, tenantRepo.Create(ctx, tenant))
	}

	page1, err := tenantRepo.ListWithCursor(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)
	assert.Equal(t, "Tenant 2", page1.Items[0].Name)

	cursor, err := pagination.DecodeCursor(page1.Cursor)
	require.NoError(t, err)

	page2, err := tenantRepo.ListWithCursor(ctx, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 1)
	assert.False(t, page2.HasMore)
	assert.Equal(t, "Tenant 0", page2.Items[0].Name)
}

func TestUsageRepository_Counters(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantRepo := NewTenantRepository(pool)
	usageRepo := NewUsageRepository(pool)

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Usage Tenant",
		Tier:      domain.TenantTierFree,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, tenantRepo.Create(ctx, tenant))

	// No row yet: counters read as zero.
	usage, err := usageRepo.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.TotalFiles)
	assert.Equal(t, int64(0), usage.TotalSizeBytes)

	require.NoError(t, usageRepo.RecordUpload(ctx, tenant.ID, 1024))
	require.NoError(t, usageRepo.RecordUpload(ctx, tenant.ID, 2048))
	require.NoError(t, usageRepo.RecordChunks(ctx, tenant.ID, 12))

	usage, err = usageRepo.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.TotalFiles)
	assert.Equal(t, int64(3072), usage.TotalSizeBytes)
	assert.Equal(t, 12, usage.TotalChunks)

	require.NoError(t, usageRepo.RecordChunks(ctx, tenant.ID, -5))
	require.NoError(t, usageRepo.RecordDeletion(ctx, tenant.ID, 2048))

	usage, err = usageRepo.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.TotalFiles)
	assert.Equal(t, int64(1024), usage.TotalSizeBytes)
	assert.Equal(t, 7, usage.TotalChunks)

	// Counters floor at zero rather than going negative.
	require.NoError(t, usageRepo.RecordChunks(ctx, tenant.ID, -100))
	require.NoError(t, usageRepo.RecordDeletion(ctx, tenant.ID, 99999))

	usage, err = usageRepo.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.TotalFiles)
	assert.Equal(t, int64(0), usage.TotalSizeBytes)
	assert.Equal(t, 0, usage.TotalChunks)
}

func TestAPIKeyRepository_CreateAndRevoke(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantRepo := NewTenantRepository(pool)
	apiKeyRepo := NewAPIKeyRepository(pool)

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Key Tenant",
		Tier:      domain.TenantTierFree,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, tenantRepo.Create(ctx, tenant))

	key := &domain.APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Name:      "ci",
		KeyHash:   "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, apiKeyRepo.Create(ctx, key))

	byHash, err := apiKeyRepo.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, byHash.ID)
	assert.False(t, byHash.IsRevoked())

	keys, err := apiKeyRepo.GetByTenantID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, apiKeyRepo.Revoke(ctx, key.ID))

	byHash, err = apiKeyRepo.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.True(t, byHash.IsRevoked())
}
