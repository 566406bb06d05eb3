package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/groundplane/groundplane/internal/domain"
)

// Object key layout: tenant_{tenantID}/agent_{agentID}/src_{sourceID}_{role}.{ext}
// Keeping everything for an agent under one prefix lets agent deletion be a
// single prefix sweep.

// AgentPrefix returns the key prefix holding all of an agent's objects.
func AgentPrefix(tenantID, agentID uuid.UUID) string {
	return fmt.Sprintf("tenant_%s/agent_%s/", tenantID, agentID)
}

// OriginalKey returns the key for a source's raw payload.
func OriginalKey(tenantID, agentID, sourceID uuid.UUID, kind domain.SourceKind) string {
	return fmt.Sprintf("%ssrc_%s_original%s", AgentPrefix(tenantID, agentID), sourceID, extFor(kind))
}

// ExtractedKey returns the key for a source's extracted plain text.
func ExtractedKey(tenantID, agentID, sourceID uuid.UUID) string {
	return fmt.Sprintf("%ssrc_%s_extracted.txt", AgentPrefix(tenantID, agentID), sourceID)
}

func extFor(kind domain.SourceKind) string {
	switch kind {
	case domain.SourceKindUploadPDF:
		return ".pdf"
	case domain.SourceKindURL:
		return ".html"
	default:
		return ".txt"
	}
}

// ContentTypeFor returns the MIME type stored alongside a source's raw payload.
func ContentTypeFor(kind domain.SourceKind) string {
	switch kind {
	case domain.SourceKindUploadPDF:
		return "application/pdf"
	case domain.SourceKindURL:
		return "text/html"
	default:
		return "text/plain"
	}
}
