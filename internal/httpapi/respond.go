package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yourorg/yourapp/apps/audit/internal/exportjob"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CorrID    string `json:"corrId"`
	Retryable bool   `json:"retryable"`
}

type ValidationError struct {
	APIError
	Errors []exportjob.ValidationErrorItem `json:"errors"`
}

type ConflictError struct {
	APIError
	ConflictReason exportjob.ConflictReason `json:"conflictReason"`
	JobID          string                   `json:"jobId,omitempty"`
}

type RateLimitError struct {
	APIError
	RetryAfterSeconds int `json:"retryAfterSeconds"`
}

func writeJSON(w http.ResponseWriter, status int, corrID string, v any, extra map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	for k, val := range extra {
		w.Header().Set(k, val)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps store errors onto status codes; anything unknown is a
// retryable 500.
func writeError(w http.ResponseWriter, corrID string, err error) {
	status, code, retryable := http.StatusInternalServerError, "INTERNAL_ERROR", true
	switch {
	case errors.Is(err, trail.ErrChainNotFound):
		status, code, retryable = http.StatusNotFound, "CHAIN_NOT_FOUND", false
	case errors.Is(err, trail.ErrEventNotFound):
		status, code, retryable = http.StatusNotFound, "EVENT_NOT_FOUND", false
	case errors.Is(err, trail.ErrChainExists):
		status, code, retryable = http.StatusConflict, "CHAIN_EXISTS", false
	case errors.Is(err, trail.ErrUnsupportedFormat):
		status, code, retryable = http.StatusBadRequest, "UNSUPPORTED_FORMAT", false
	case errors.Is(err, trail.ErrInvalidInput):
		status, code, retryable = http.StatusBadRequest, "VALIDATION_ERROR", false
	}
	writeJSON(w, status, corrID, APIError{Code: code, Message: err.Error(), CorrID: corrID, Retryable: retryable}, nil)
}

func writeValidation(w http.ResponseWriter, corrID, code string, errs []exportjob.ValidationErrorItem) {
	body := ValidationError{
		APIError: APIError{Code: code, Message: "request validation failed", CorrID: corrID},
		Errors:   errs,
	}
	writeJSON(w, http.StatusBadRequest, corrID, body, nil)
}

func writeRateLimited(w http.ResponseWriter, corrID, message string, retryAfter time.Duration) {
	body := RateLimitError{
		APIError:          APIError{Code: "RATE_LIMITED", Message: message, CorrID: corrID, Retryable: true},
		RetryAfterSeconds: toRetrySeconds(retryAfter),
	}
	writeJSON(w, http.StatusTooManyRequests, corrID, body, map[string]string{"Retry-After": formatRetryAfter(retryAfter)})
}

func formatRetryAfter(d time.Duration) string {
	return fmt.Sprintf("%d", toRetrySeconds(d))
}

func toRetrySeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
