package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies how a knowledge source's raw content was provided
type SourceKind string

const (
	SourceKindUploadPDF SourceKind = "upload_pdf"
	SourceKindUploadTxt SourceKind = "upload_txt"
	SourceKindURL       SourceKind = "url"
	SourceKindText      SourceKind = "text"
	SourceKindOther     SourceKind = "other"
)

// SourceStatus represents the ingestion status of a knowledge source
type SourceStatus string

const (
	SourceStatusPending SourceStatus = "pending"
	SourceStatusReady   SourceStatus = "ready"
	SourceStatusFailed  SourceStatus = "failed"
)

// KnowledgeSource represents one ingestible unit attached to an agent.
// Raw and extracted content live in object storage; only vector points
// derived from the extracted text are searchable.
type KnowledgeSource struct {
	ID             string
	AgentID        string
	Kind           SourceKind
	Title          string
	SourceURI      string // original URL or storage key of the raw upload
	StorageKey     string // object-storage key of the raw payload, empty for pasted text
	ExtractedKey   string // object-storage key of the extracted plain text
	RawBytes       int64
	ExtractedBytes int64
	ChunkCount     *int // nil until an ingest job succeeds
	Status         SourceStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewKnowledgeSource creates a pending KnowledgeSource.
func NewKnowledgeSource(id, agentID string, kind SourceKind, title string, createdAt time.Time) *KnowledgeSource {
	return &KnowledgeSource{
		ID:        id,
		AgentID:   agentID,
		Kind:      kind,
		Title:     title,
		Status:    SourceStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// ValidateKnowledgeSource validates a KnowledgeSource instance
func ValidateKnowledgeSource(s *KnowledgeSource) error {
	if s == nil {
		return fmt.Errorf("knowledge source cannot be nil")
	}

	if s.ID == "" {
		return fmt.Errorf("knowledge source ID is required")
	}

	if s.AgentID == "" {
		return fmt.Errorf("knowledge source AgentID is required")
	}

	if !isValidSourceKind(s.Kind) {
		return fmt.Errorf("knowledge source Kind is invalid: %s", s.Kind)
	}

	if !isValidSourceStatus(s.Status) {
		return fmt.Errorf("knowledge source Status is invalid: %s", s.Status)
	}

	if s.Status == SourceStatusReady && (s.ChunkCount == nil || *s.ChunkCount <= 0) {
		return fmt.Errorf("ready knowledge source must have a positive chunk count")
	}

	return nil
}

// isValidSourceKind checks if a SourceKind is valid
func isValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceKindUploadPDF, SourceKindUploadTxt, SourceKindURL,
		SourceKindText, SourceKindOther:
		return true
	}
	return false
}

// isValidSourceStatus checks if a SourceStatus is valid
func isValidSourceStatus(s SourceStatus) bool {
	switch s {
	case SourceStatusPending, SourceStatusReady, SourceStatusFailed:
		return true
	}
	return false
}
