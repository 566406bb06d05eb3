// Package api defines the JSON response envelope and the mapping from
// domain errors to HTTP status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/groundplane/groundplane/internal/domain"
)

// SuccessResponse wraps every successful payload under a "data" key.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse carries a human-readable error string.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusByCode maps domain error codes onto HTTP statuses. Pipeline errors
// (extraction, chunking) are the client's content problem; backend errors
// (vector store, object storage) are upstream outages.
var statusByCode = map[string]int{
	domain.ErrCodeValidation:    http.StatusBadRequest,
	domain.ErrCodeNotFound:      http.StatusNotFound,
	domain.ErrCodeAlreadyExists: http.StatusConflict,
	domain.ErrCodeUnauthorized:  http.StatusUnauthorized,
	domain.ErrCodeForbidden:     http.StatusForbidden,
	domain.ErrCodeQuotaExceeded: http.StatusTooManyRequests,
	domain.ErrCodeExtraction:    http.StatusUnprocessableEntity,
	domain.ErrCodeChunking:      http.StatusUnprocessableEntity,
	domain.ErrCodeVectorStore:   http.StatusBadGateway,
	domain.ErrCodeStorage:       http.StatusBadGateway,
	domain.ErrCodeInternalError: http.StatusInternalServerError,
}

// JSON writes data as a JSON body with the given status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes data inside the success envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes message inside the error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP resolves the HTTP status for an error. Anything that is
// not a DomainError is an unclassified failure and maps to 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[domainErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes the error response for err at its mapped status.
func HandleError(w http.ResponseWriter, err error) {
	Error(w, DomainErrorToHTTP(err), err.Error())
}
