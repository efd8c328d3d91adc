package exportjob

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

type Request struct {
	ChainID         string `json:"chainId"`
	Format          string `json:"format"`
	IncludeEvidence bool   `json:"includeEvidence"`
}

type JobStatus string

const (
	Queued    JobStatus = "queued"
	Running   JobStatus = "running"
	Succeeded JobStatus = "succeeded"
	Failed    JobStatus = "failed"
	Canceled  JobStatus = "canceled"
)

type ConflictReason string

const (
	IdempotencyBodyMismatch ConflictReason = "idempotency_body_mismatch"
	DuplicateJob            ConflictReason = "duplicate_job"
	NotCancelable           ConflictReason = "not_cancelable"
)

type Result struct {
	SignedURL    string    `json:"signedUrl"`
	IntegrityURL string    `json:"integrityUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Size         int       `json:"size"`
	Filename     string    `json:"filename"`
	RenderedAs   string    `json:"renderedAs"`
	Checksum     string    `json:"checksum"`
}

type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type Job struct {
	JobID        openapi_types.UUID `json:"jobId"`
	ChainID      string             `json:"chainId"`
	Format       string             `json:"format"`
	Status       JobStatus          `json:"status"`
	Progress     int                `json:"progress"`
	RequestedAt  time.Time          `json:"requestedAt"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	FinishedAt   *time.Time         `json:"finishedAt,omitempty"`
	RetryCount   int                `json:"retryCount"`
	CriteriaHash *string            `json:"criteriaHash,omitempty"`
	CanCancel    *bool              `json:"canCancel,omitempty"`
	Result       *Result            `json:"result,omitempty"`
	Error        *JobError          `json:"error,omitempty"`
}

type ValidationErrorItem struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// sidecar is stored next to every artifact so a downloader can check it
// without access to the store.
type sidecar struct {
	ChainID    string    `json:"chainId"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	RenderedAs string    `json:"renderedAs"`
	Checksum   string    `json:"checksum"`
	Signature  string    `json:"signature"`
	Timestamp  time.Time `json:"timestamp"`
}
