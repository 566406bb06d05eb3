package domain

import "time"

// TenantTier identifies a billing tier; limits per tier are policy
// parameters supplied through configuration, not defined here.
type TenantTier string

const (
	TenantTierFree TenantTier = "free"
	TenantTierPaid TenantTier = "paid"
	TenantTierPro  TenantTier = "pro"
)

// Tenant represents an account that owns agents and knowledge sources.
type Tenant struct {
	ID        string
	Name      string
	Tier      TenantTier
	CreatedAt time.Time
}

// TenantUsage tracks a tenant's storage consumption. Counters reflect bytes
// stored, not ingestion success: a source counts against quota even if its
// ingest job later fails.
type TenantUsage struct {
	TenantID       string
	TotalFiles     int
	TotalSizeBytes int64
	TotalChunks    int
	UpdatedAt      time.Time
}

// QuotaLimits holds the per-tier limits applied to tenant usage.
type QuotaLimits struct {
	StorageBytes int64
	Files        int
}

// Allows reports whether adding the given bytes (and one more file when
// countFile is set) stays within the limits.
func (l QuotaLimits) Allows(u *TenantUsage, additionalBytes int64, countFile bool) error {
	if countFile && u.TotalFiles+1 > l.Files {
		return ErrFileQuotaExceeded
	}
	if u.TotalSizeBytes+additionalBytes > l.StorageBytes {
		return ErrStorageQuotaExceeded
	}
	return nil
}
