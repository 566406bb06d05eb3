package service

import "github.com/groundplane/groundplane/internal/domain"

// QuotaPolicy maps tenant tiers to their storage limits.
type QuotaPolicy struct {
	limits map[domain.TenantTier]domain.QuotaLimits
}

func NewQuotaPolicy(free, paid, pro domain.QuotaLimits) QuotaPolicy {
	return QuotaPolicy{
		limits: map[domain.TenantTier]domain.QuotaLimits{
			domain.TenantTierFree: free,
			domain.TenantTierPaid: paid,
			domain.TenantTierPro:  pro,
		},
	}
}

// LimitsFor returns the limits for a tier; unknown tiers get free limits.
func (p QuotaPolicy) LimitsFor(tier domain.TenantTier) domain.QuotaLimits {
	if l, ok := p.limits[tier]; ok {
		return l
	}
	return p.limits[domain.TenantTierFree]
}
