package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

func (s *Server) logEvent(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	switch kind {
	case "policy-change":
		handleLog(s, w, r, kind, s.store.LogPolicyChange)
	case "template-change":
		handleLog(s, w, r, kind, s.store.LogTemplateChange)
	case "data-access":
		handleLog(s, w, r, kind, s.store.LogDataAccess)
	case "consent-change":
		handleLog(s, w, r, kind, s.store.LogConsentChange)
	case "data-export":
		handleLog(s, w, r, kind, s.store.LogDataExport)
	case "data-deletion":
		handleLog(s, w, r, kind, s.store.LogDataDeletion)
	case "breach-incident":
		handleLog(s, w, r, kind, s.store.LogBreachIncident)
	case "document-change":
		handleLog(s, w, r, kind, s.store.LogDocumentChange)
	default:
		corrID := corrIDFrom(r)
		writeJSON(w, http.StatusNotFound, corrID, APIError{Code: "NOT_FOUND", Message: "unknown log kind " + kind, CorrID: corrID}, nil)
	}
}

func handleLog[T any](s *Server, w http.ResponseWriter, r *http.Request, kind string, record func(context.Context, T) (string, error)) {
	corrID := corrIDFrom(r)
	var in T
	if err := decodeBody(r.Body, &in); err != nil {
		s.badJSON(w, r, err)
		return
	}
	id, err := record(r.Context(), in)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	trail.CorrelationLogger(s.logger, "", corrID).Info("domain audit event recorded", "kind", kind, "eventId", id)
	writeJSON(w, http.StatusCreated, corrID, map[string]string{"eventId": id}, nil)
}
