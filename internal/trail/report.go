package trail

import (
	"context"
	"math"
	"time"
)

// ComplianceReport summarizes one chain over an optional time window.
type ComplianceReport struct {
	ChainID          string                 `json:"chainId"`
	From             *time.Time             `json:"from,omitempty"`
	To               *time.Time             `json:"to,omitempty"`
	GeneratedAt      time.Time              `json:"generatedAt"`
	TotalEvents      int                    `json:"totalEvents"`
	ByEventType      map[EventType]int      `json:"byEventType"`
	ByFramework      map[Framework]int      `json:"byFramework"`
	ByClassification map[Classification]int `json:"byClassification"`
	ByOutcome        map[Outcome]int        `json:"byOutcome"`
	FailedActions    int                    `json:"failedActions"`
	IntegrityStatus  IntegrityStatus        `json:"integrityStatus"`
	Findings         []IntegrityFinding     `json:"findings"`
}

func (s *Store) ComplianceReport(ctx context.Context, chainID string, from, to *time.Time) (ComplianceReport, error) {
	if chainID == "" {
		chainID = DefaultChainID
	}
	result, err := s.QueryEvents(ctx, QueryFilter{
		ChainID:    chainID,
		StartDate:  from,
		EndDate:    to,
		SortOrder:  SortAsc,
		MaxResults: math.MaxInt32,
	})
	if err != nil {
		return ComplianceReport{}, err
	}

	r := ComplianceReport{
		ChainID:          chainID,
		From:             cloneTime(from),
		To:               cloneTime(to),
		GeneratedAt:      s.timestamp(),
		TotalEvents:      result.Total,
		ByEventType:      map[EventType]int{},
		ByFramework:      map[Framework]int{},
		ByClassification: map[Classification]int{},
		ByOutcome:        map[Outcome]int{},
	}
	for _, e := range result.Events {
		r.ByEventType[e.EventType]++
		for _, f := range e.Compliance.Frameworks {
			r.ByFramework[f]++
		}
		r.ByClassification[e.Resource.Classification]++
		r.ByOutcome[e.Action.Outcome]++
		if e.Action.Outcome == OutcomeFailure {
			r.FailedActions++
		}
	}
	_, r.Findings = s.verifyEvents(result.Events, false)
	r.IntegrityStatus = StatusVerified
	if len(r.Findings) > 0 {
		r.IntegrityStatus = StatusFailed
	}
	return r, nil
}
