package domain

import (
	"fmt"
	"time"
)

// Agent represents a conversational agent owned by a tenant. Its vector
// namespace scopes every index write and query for its knowledge sources.
type Agent struct {
	ID               string
	TenantID         string
	Name             string
	Instructions     string
	RetrievalEnabled bool
	RetrievalTopK    int
	VectorNamespace  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DefaultRetrievalTopK is the number of chunks retrieved per chat turn
// when an agent has no explicit setting.
const DefaultRetrievalTopK = 4

// NamespaceFor derives the vector namespace for a tenant/agent pair.
// The derivation is deterministic; the same pair always maps to the same
// partition of the index.
func NamespaceFor(tenantID, agentID string) string {
	return fmt.Sprintf("%s:%s", tenantID, agentID)
}

// NewAgent creates an Agent with retrieval enabled and a derived namespace.
func NewAgent(id, tenantID, name, instructions string, createdAt time.Time) *Agent {
	return &Agent{
		ID:               id,
		TenantID:         tenantID,
		Name:             name,
		Instructions:     instructions,
		RetrievalEnabled: true,
		RetrievalTopK:    DefaultRetrievalTopK,
		VectorNamespace:  NamespaceFor(tenantID, id),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

// ValidateAgent validates an Agent instance
func ValidateAgent(a *Agent) error {
	if a == nil {
		return fmt.Errorf("agent cannot be nil")
	}

	if a.ID == "" {
		return fmt.Errorf("agent ID is required")
	}

	if a.TenantID == "" {
		return fmt.Errorf("agent TenantID is required")
	}

	if a.Name == "" {
		return fmt.Errorf("agent Name is required")
	}

	if a.RetrievalTopK < 0 {
		return fmt.Errorf("agent RetrievalTopK cannot be negative")
	}

	return nil
}
