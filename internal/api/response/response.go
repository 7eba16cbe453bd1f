// Package response writes the API's JSON envelopes: {"data": ...} on success
// and {"error": {"code", "message", "details"}} on failure.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// ErrorCode is the machine-readable reason carried in an error envelope.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeInvalidKind    ErrorCode = "INVALID_KIND"
	CodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeJobFinished    ErrorCode = "JOB_FINISHED"
	CodeDuplicateKey   ErrorCode = "DUPLICATE_KEY"
	CodeRateLimited    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeDegraded       ErrorCode = "DEGRADED"
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// JobState is the short form of a job returned when only its status matters.
type JobState struct {
	ID     uuid.UUID     `json:"id"`
	Status models.Status `json:"status"`
}

// Tally reports the outcome of a queue maintenance action, e.g. {"processed": 3}.
type Tally map[string]int

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// Job writes {id, status} with the given HTTP status: 202 for a queued job,
// 200 when echoing the state of an existing one.
func Job(w http.ResponseWriter, httpStatus int, id uuid.UUID, status models.Status) {
	writeJSON(w, httpStatus, envelope{Data: JobState{ID: id, Status: status}})
}

// Count writes a single-entry Tally such as {"requeued": 2}.
func Count(w http.ResponseWriter, name string, n int) {
	writeJSON(w, http.StatusOK, envelope{Data: Tally{name: n}})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code ErrorCode, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
