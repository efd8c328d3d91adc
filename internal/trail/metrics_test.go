package trail

import (
	"context"
	"testing"
)

func TestGetAuditMetrics(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateChain(context.Background(), ChainSpec{ID: "ops"}); err != nil {
		t.Fatalf("CreateChain() error = %v", err)
	}
	appendN(t, s, "", 2)
	appendN(t, s, "ops", 1)

	m := s.GetAuditMetrics()
	if m.TotalChains != 2 || m.TotalEvents != 3 || m.AverageEventsPerChain != 2 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.IntegrityStatus != StatusVerified {
		t.Fatalf("expected verified status, got %s", m.IntegrityStatus)
	}
	if m.StorageUsed != "7.5 KiB" {
		t.Fatalf("unexpected storage estimate %s", m.StorageUsed)
	}
	if len(m.ComplianceFrameworks) != 6 {
		t.Fatalf("expected the six supported frameworks, got %v", m.ComplianceFrameworks)
	}
	if m.LastIntegrityCheck != nil {
		t.Fatalf("no check has run yet")
	}

	if _, err := s.VerifyChainIntegrity(context.Background(), "ops"); err != nil {
		t.Fatalf("VerifyChainIntegrity() error = %v", err)
	}
	if m := s.GetAuditMetrics(); m.LastIntegrityCheck == nil {
		t.Fatalf("lastIntegrityCheck should be set after a verification")
	}
	if got := s.ChainLengths(); got["main"] != 2 || got["ops"] != 1 {
		t.Fatalf("unexpected chain lengths %v", got)
	}
}

func TestComplianceReport(t *testing.T) {
	s := newTestStore(t)
	seedMixed(t, s)
	in := sampleInput(99)
	in.Action.Outcome = OutcomeFailure
	if _, err := s.CreateAuditEvent(context.Background(), in); err != nil {
		t.Fatalf("CreateAuditEvent() error = %v", err)
	}

	r, err := s.ComplianceReport(context.Background(), "", nil, nil)
	if err != nil {
		t.Fatalf("ComplianceReport() error = %v", err)
	}
	if r.TotalEvents != 11 || r.ByEventType[EventPolicyChange] != 5 || r.ByEventType[EventUserAction] != 6 {
		t.Fatalf("unexpected event type counts %+v", r.ByEventType)
	}
	if r.ByFramework[SOX] != 11 || r.ByFramework[GDPR] != 5 {
		t.Fatalf("unexpected framework counts %+v", r.ByFramework)
	}
	if r.FailedActions != 1 || r.IntegrityStatus != StatusVerified {
		t.Fatalf("unexpected report %+v", r)
	}

	chain, _ := s.Chain("")
	from := chain.Events[8].Timestamp
	r, _ = s.ComplianceReport(context.Background(), "", &from, nil)
	if r.TotalEvents != 3 {
		t.Fatalf("windowed report should cover 3 events, got %d", r.TotalEvents)
	}
}
