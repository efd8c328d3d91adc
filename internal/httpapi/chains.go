package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/yourorg/yourapp/apps/audit/internal/exportjob"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

func (s *Server) createChain(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	var spec trail.ChainSpec
	if err := decodeBody(r.Body, &spec); err != nil {
		s.badJSON(w, r, err)
		return
	}
	chain, err := s.store.CreateChain(r.Context(), spec)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	s.log(r, chain.ID).Info("audit chain created")
	writeJSON(w, http.StatusCreated, corrID, chain, map[string]string{"Location": "/chains/" + url.PathEscape(chain.ID)})
}

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, corrIDFrom(r), map[string]any{"chains": s.store.Chains()}, nil)
}

func (s *Server) appendEvent(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	var in trail.EventInput
	if err := decodeBody(r.Body, &in); err != nil {
		s.badJSON(w, r, err)
		return
	}
	in.ChainID = chi.URLParam(r, "chainID")
	if !in.EventType.Valid() {
		writeValidation(w, corrID, "VALIDATION_ERROR", []exportjob.ValidationErrorItem{{
			Code: "EVENT-001", Path: "eventType", Message: "unknown event type " + string(in.EventType),
		}})
		return
	}
	if in.Actor.ID == "" {
		in.Actor.ID = requester(r)
	}
	if in.Actor.IPAddress == "" {
		in.Actor.IPAddress = clientIP(r)
	}
	if in.Actor.UserAgent == "" {
		in.Actor.UserAgent = r.UserAgent()
	}
	if in.Technical.CorrelationID == "" {
		in.Technical.CorrelationID = corrID
	}
	id, err := s.store.CreateAuditEvent(r.Context(), in)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, map[string]string{"eventId": id}, nil)
}

type eventQueryParams struct {
	StartDate      *time.Time
	EndDate        *time.Time
	EventTypes     *[]string
	Actors         *[]string
	Resources      *[]string
	Frameworks     *[]string
	Classification *[]string
	MaxResults     *int
	SortOrder      *string
}

func bindEventQuery(q url.Values) (eventQueryParams, []exportjob.ValidationErrorItem) {
	var p eventQueryParams
	binds := []struct {
		name string
		dest any
	}{
		{"startDate", &p.StartDate},
		{"endDate", &p.EndDate},
		{"eventTypes", &p.EventTypes},
		{"actors", &p.Actors},
		{"resources", &p.Resources},
		{"complianceFrameworks", &p.Frameworks},
		{"dataClassification", &p.Classification},
		{"maxResults", &p.MaxResults},
		{"sortOrder", &p.SortOrder},
	}
	errs := make([]exportjob.ValidationErrorItem, 0)
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: b.name, Message: err.Error()})
		}
	}
	if p.MaxResults != nil && *p.MaxResults < 0 {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "maxResults", Message: "maxResults must not be negative"})
	}
	if p.SortOrder != nil && *p.SortOrder != string(trail.SortAsc) && *p.SortOrder != string(trail.SortDesc) {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "sortOrder", Message: "sortOrder must be asc or desc"})
	}
	return p, errs
}

func (p eventQueryParams) filter(chainID string) trail.QueryFilter {
	f := trail.QueryFilter{
		ChainID:              chainID,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		EventTypes:           convert[trail.EventType](p.EventTypes),
		Actors:               convert[string](p.Actors),
		Resources:            convert[string](p.Resources),
		ComplianceFrameworks: convert[trail.Framework](p.Frameworks),
		DataClassification:   convert[trail.Classification](p.Classification),
	}
	if p.MaxResults != nil {
		f.MaxResults = *p.MaxResults
	}
	if p.SortOrder != nil {
		f.SortOrder = trail.SortOrder(*p.SortOrder)
	}
	return f
}

func convert[T ~string](in *[]string) []T {
	if in == nil {
		return nil
	}
	out := make([]T, 0, len(*in))
	for _, v := range *in {
		out = append(out, T(v))
	}
	return out
}

func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	params, errs := bindEventQuery(r.URL.Query())
	if len(errs) > 0 {
		writeValidation(w, corrID, "VALIDATION_ERROR", errs)
		return
	}
	res, err := s.store.QueryEvents(r.Context(), params.filter(chi.URLParam(r, "chainID")))
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, res, nil)
}

func (s *Server) eventProof(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	proof, err := s.store.Proof(chi.URLParam(r, "chainID"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, proof, nil)
}

type verifyResponse struct {
	trail.VerificationResult
	Events []trail.EventStatus `json:"events"`
}

func (s *Server) verifyChain(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	chainID := chi.URLParam(r, "chainID")
	res, err := s.store.VerifyChainIntegrity(r.Context(), chainID)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	statuses, err := s.store.EventStatuses(chainID, res)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, verifyResponse{VerificationResult: res, Events: statuses}, nil)
}

func (s *Server) exportChain(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	chainID := chi.URLParam(r, "chainID")
	var (
		format          string
		includeEvidence *bool
	)
	errs := make([]exportjob.ValidationErrorItem, 0)
	if err := runtime.BindQueryParameter("form", true, true, "format", r.URL.Query(), &format); err != nil {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "format", Message: err.Error()})
	}
	if err := runtime.BindQueryParameter("form", true, false, "includeEvidence", r.URL.Query(), &includeEvidence); err != nil {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "includeEvidence", Message: err.Error()})
	}
	if len(errs) > 0 {
		writeValidation(w, corrID, "VALIDATION_ERROR", errs)
		return
	}
	f, err := trail.ParseFormat(format)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	res, err := s.store.ExportAuditChain(r.Context(), chainID, f, includeEvidence == nil || *includeEvidence)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("X-Correlation-Id", corrID)
	w.Header().Set("X-Export-Checksum", res.Integrity.Checksum)
	w.Header().Set("X-Export-Signature", res.Integrity.Signature)
	w.Header().Set("X-Export-Rendered-As", res.RenderedAs)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
	s.log(r, chainID).Info("audit chain downloaded", "format", f, "bytes", len(res.Data))
}

func (s *Server) complianceReport(w http.ResponseWriter, r *http.Request) {
	corrID := corrIDFrom(r)
	var from, to *time.Time
	errs := make([]exportjob.ValidationErrorItem, 0)
	if err := runtime.BindQueryParameter("form", true, false, "from", r.URL.Query(), &from); err != nil {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "from", Message: err.Error()})
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", r.URL.Query(), &to); err != nil {
		errs = append(errs, exportjob.ValidationErrorItem{Code: "BAD_QUERY", Path: "to", Message: err.Error()})
	}
	if len(errs) > 0 {
		writeValidation(w, corrID, "VALIDATION_ERROR", errs)
		return
	}
	report, err := s.store.ComplianceReport(r.Context(), chi.URLParam(r, "chainID"), from, to)
	if err != nil {
		writeError(w, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, report, nil)
}

func (s *Server) auditMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, corrIDFrom(r), s.store.GetAuditMetrics(), nil)
}
