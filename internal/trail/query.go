package trail

import (
	"context"
	"slices"
	"sort"
	"time"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryFilter narrows a chain scan. Empty lists match everything; dates are
// inclusive. Anything but SortAsc sorts by sequence descending.
type QueryFilter struct {
	ChainID              string           `json:"chainId,omitempty"`
	StartDate            *time.Time       `json:"startDate,omitempty"`
	EndDate              *time.Time       `json:"endDate,omitempty"`
	EventTypes           []EventType      `json:"eventTypes,omitempty"`
	Actors               []string         `json:"actors,omitempty"`
	Resources            []string         `json:"resources,omitempty"`
	ComplianceFrameworks []Framework      `json:"complianceFrameworks,omitempty"`
	DataClassification   []Classification `json:"dataClassification,omitempty"`
	MaxResults           int              `json:"maxResults,omitempty"`
	SortOrder            SortOrder        `json:"sortOrder,omitempty"`
}

type QueryResult struct {
	Events          []AuditEvent    `json:"events"`
	Total           int             `json:"total"`
	HasMore         bool            `json:"hasMore"`
	IntegrityStatus IntegrityStatus `json:"integrityStatus"`
}

func (f QueryFilter) matches(e AuditEvent) bool {
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.Actors) > 0 && !slices.Contains(f.Actors, e.Actor.ID) {
		return false
	}
	if len(f.Resources) > 0 && !slices.Contains(f.Resources, e.Resource.ID) {
		return false
	}
	if len(f.ComplianceFrameworks) > 0 && !slices.ContainsFunc(e.Compliance.Frameworks, func(fw Framework) bool {
		return slices.Contains(f.ComplianceFrameworks, fw)
	}) {
		return false
	}
	if len(f.DataClassification) > 0 && !slices.Contains(f.DataClassification, e.Resource.Classification) {
		return false
	}
	return true
}

// QueryEvents filters, sorts and caps the events of one chain and re-verifies
// the hashes and signatures of the page it returns.
func (s *Store) QueryEvents(ctx context.Context, f QueryFilter) (QueryResult, error) {
	st, err := s.state(f.ChainID)
	if err != nil {
		return QueryResult{}, err
	}

	st.mu.RLock()
	matched := make([]AuditEvent, 0)
	for _, e := range st.chain.Events {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	st.mu.RUnlock()

	if f.SortOrder == SortAsc {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Sequence < matched[j].Sequence })
	} else {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Sequence > matched[j].Sequence })
	}

	limit := f.MaxResults
	if limit <= 0 {
		limit = s.maxResults
	}
	page := matched
	if len(page) > limit {
		page = page[:limit]
	}

	_, findings := s.verifyEvents(page, false)
	status := StatusVerified
	if len(findings) > 0 {
		status = StatusFailed
	}

	events := make([]AuditEvent, len(page))
	for i, e := range page {
		events[i] = cloneEvent(e)
	}
	return QueryResult{
		Events:          events,
		Total:           len(matched),
		HasMore:         len(matched) > limit,
		IntegrityStatus: status,
	}, nil
}
