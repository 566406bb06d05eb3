package domain

import (
	"fmt"
	"time"
)

// JobState represents the state of an ingest job
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// IngestJob represents one attempt to turn a knowledge source's raw content
// into indexed chunks. Many jobs may reference one source; reindexing
// creates a new job rather than reusing an old one.
type IngestJob struct {
	ID        string
	SourceID  string
	State     JobState
	Error     string // non-empty only when State == failed
	Reindex   bool   // reindex jobs delete prior points before upserting
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewIngestJob creates a queued IngestJob for the given source.
func NewIngestJob(id, sourceID string, reindex bool, createdAt time.Time) *IngestJob {
	return &IngestJob{
		ID:        id,
		SourceID:  sourceID,
		State:     JobStateQueued,
		Reindex:   reindex,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// CanTransition reports whether a job may move from one state to another.
// Transitions are monotonic forward: queued -> running -> succeeded|failed.
// Terminal states never transition out.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateRunning
	case JobStateRunning:
		return to == JobStateSucceeded || to == JobStateFailed
	}
	return false
}

// IsTerminal reports whether the state is terminal.
func IsTerminal(s JobState) bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// ValidateIngestJob validates an IngestJob instance
func ValidateIngestJob(j *IngestJob) error {
	if j == nil {
		return fmt.Errorf("ingest job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingest job ID is required")
	}

	if j.SourceID == "" {
		return fmt.Errorf("ingest job SourceID is required")
	}

	if !isValidJobState(j.State) {
		return fmt.Errorf("ingest job State is invalid: %s", j.State)
	}

	if j.State == JobStateFailed && j.Error == "" {
		return fmt.Errorf("failed ingest job must carry an error message")
	}

	if j.State != JobStateFailed && j.Error != "" {
		return fmt.Errorf("only failed ingest jobs may carry an error message")
	}

	return nil
}

// isValidJobState checks if a JobState is valid
func isValidJobState(s JobState) bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}
