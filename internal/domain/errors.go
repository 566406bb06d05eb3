package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeExtraction    = "EXTRACTION_ERROR"
	ErrCodeChunking      = "CHUNKING_ERROR"
	ErrCodeVectorStore   = "VECTOR_STORE_ERROR"
	ErrCodeStorage       = "STORAGE_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewValidationError creates a validation error with the given message.
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrCodeValidation, message)
}

// NewExtractionError creates an extraction error, optionally wrapping a cause.
func NewExtractionError(message string, cause error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeExtraction, message, cause)
}

// NewChunkingError creates a chunking error with the given message.
func NewChunkingError(message string) *DomainError {
	return NewDomainError(ErrCodeChunking, message)
}

// NewVectorStoreError creates a vector store error carrying the underlying cause.
func NewVectorStoreError(message string, cause error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeVectorStore, message, cause)
}

// NewStorageError creates a storage error carrying the underlying cause.
func NewStorageError(message string, cause error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStorage, message, cause)
}

// IsErrorCode reports whether err is a DomainError with the given code.
func IsErrorCode(err error, code string) bool {
	domainErr, ok := err.(*DomainError)
	return ok && domainErr.Code == code
}

// Not found errors
var (
	ErrSourceNotFound = NewDomainError(ErrCodeNotFound, "knowledge source not found")
	ErrJobNotFound    = NewDomainError(ErrCodeNotFound, "ingest job not found")
	ErrAgentNotFound  = NewDomainError(ErrCodeNotFound, "agent not found")
	ErrTenantNotFound = NewDomainError(ErrCodeNotFound, "tenant not found")
)

// Validation errors
var (
	ErrInvalidSourceKind   = NewDomainError(ErrCodeValidation, "invalid source kind")
	ErrInvalidSourceStatus = NewDomainError(ErrCodeValidation, "invalid source status")
	ErrInvalidJobState     = NewDomainError(ErrCodeValidation, "invalid ingest job state")
	ErrMissingNamespace    = NewDomainError(ErrCodeValidation, "missing vector store namespace")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrNotOwner      = NewDomainError(ErrCodeForbidden, "resource does not belong to tenant")
)

// Quota errors
var (
	ErrStorageQuotaExceeded = NewDomainError(ErrCodeQuotaExceeded, "storage quota exceeded")
	ErrFileQuotaExceeded    = NewDomainError(ErrCodeQuotaExceeded, "file count limit reached")
)
