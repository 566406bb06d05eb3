package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/groundplane/groundplane/internal/api"
)

type contextKey string

const (
	TenantIDKey      contextKey = "tenant_id"
	tenantCarrierKey contextKey = "tenant_carrier"
)

// tenantCarrier is a shared slot written by APIKeyAuth and read by
// middleware mounted outside it; plain context values only flow inward,
// never back up the chain.
type tenantCarrier struct {
	mu sync.Mutex
	id string
}

func (c *tenantCarrier) set(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *tenantCarrier) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// TenantAttribution installs the carrier. Mount it before the access log
// and Sentry middleware so they can attribute requests to a tenant after
// the handler chain returns.
func TenantAttribution(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), tenantCarrierKey, &tenantCarrier{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthValidator resolves a plaintext API token to the owning tenant ID.
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// APIKeyAuth resolves the bearer token to a tenant and injects the tenant ID
// into the request context. Requests without a valid key never reach the
// wrapped handler.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			tenantID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			if carrier, ok := ctx.Value(tenantCarrierKey).(*tenantCarrier); ok {
				carrier.set(tenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantID returns the authenticated tenant ID, or "" when the request
// did not pass APIKeyAuth. Contexts captured above the auth middleware fall
// back to the carrier, which is filled in once auth runs.
func GetTenantID(ctx context.Context) string {
	if tenantID, _ := ctx.Value(TenantIDKey).(string); tenantID != "" {
		return tenantID
	}
	if carrier, ok := ctx.Value(tenantCarrierKey).(*tenantCarrier); ok {
		return carrier.get()
	}
	return ""
}
