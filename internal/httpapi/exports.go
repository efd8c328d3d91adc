package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/yourorg/yourapp/apps/audit/internal/exportjob"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

func (s *Server) enqueueExport(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	who := requester(r)

	if ok, retryAfter := s.limiter.Allow(who); !ok {
		writeRateLimited(w, corrID, "too many requests", retryAfter)
		return
	}
	var req exportjob.Request
	if err := decodeBody(r.Body, &req); err != nil {
		s.badJSON(w, r, err)
		return
	}
	errs := exportjob.ValidateRequest(who, req, func(id string) bool {
		_, err := s.store.Chain(id)
		return err == nil
	})
	if len(errs) > 0 {
		writeValidation(w, corrID, "VALIDATION_ERROR", errs)
		return
	}

	job, err := s.jobs.Enqueue(r.Context(), who, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		var conflict exportjob.ConflictErr
		var limited exportjob.RateLimitErr
		switch {
		case errors.As(err, &conflict):
			body := ConflictError{
				APIError:       APIError{Code: "CONFLICT", Message: conflictMessage(conflict), CorrID: corrID},
				ConflictReason: conflict.Reason,
				JobID:          conflict.JobID,
			}
			writeJSON(w, http.StatusConflict, corrID, body, nil)
		case errors.As(err, &limited):
			writeRateLimited(w, corrID, "export queue is full", limited.RetryAfter)
		default:
			writeError(w, corrID, err)
		}
		return
	}

	s.log(r, job.ChainID).Info("export job enqueued", "jobId", job.JobID, "format", job.Format, "requester", who)
	writeJSON(w, http.StatusAccepted, corrID, job, map[string]string{"Location": "/exports/" + job.JobID.String()})
}

// getExport returns the job; with ?cancel=true it cancels it first.
func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	who := requester(r)
	notFound := APIError{Code: "NOT_FOUND", Message: "job not found", CorrID: corrID}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, corrID, notFound, nil)
		return
	}
	var cancel *bool
	if err := runtime.BindQueryParameter("form", true, false, "cancel", r.URL.Query(), &cancel); err != nil {
		writeValidation(w, corrID, "VALIDATION_ERROR", []exportjob.ValidationErrorItem{{Code: "BAD_QUERY", Path: "cancel", Message: err.Error()}})
		return
	}

	job, owner, ok := s.jobs.Get(jobID.String())
	if !ok || owner != who {
		writeJSON(w, http.StatusNotFound, corrID, notFound, nil)
		return
	}
	if cancel != nil && *cancel {
		updated, err := s.jobs.Cancel(who, jobID.String())
		if err != nil {
			var conflict exportjob.ConflictErr
			if errors.As(err, &conflict) {
				body := ConflictError{
					APIError:       APIError{Code: "CONFLICT", Message: conflictMessage(conflict), CorrID: corrID},
					ConflictReason: conflict.Reason,
					JobID:          conflict.JobID,
				}
				writeJSON(w, http.StatusConflict, corrID, body, nil)
				return
			}
			writeError(w, corrID, err)
			return
		}
		job = updated
		trail.CorrelationLogger(s.logger, job.ChainID, corrID).Info("export job canceled", "jobId", job.JobID)
	}
	writeJSON(w, http.StatusOK, corrID, job, nil)
}

func conflictMessage(e exportjob.ConflictErr) string {
	switch e.Reason {
	case exportjob.IdempotencyBodyMismatch:
		return "idempotency key already used with different payload"
	case exportjob.DuplicateJob:
		return "an export with the same criteria is already running"
	case exportjob.NotCancelable:
		return "job is not cancelable in current state"
	default:
		return "duplicate request"
	}
}
