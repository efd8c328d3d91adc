package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func useTempEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	envFile = ""
	t.Setenv("AUDIT_CONFIG_FILE", "")
	t.Setenv("AUDIT_DB_PATH", filepath.Join(dir, "audit.db"))
	t.Setenv("AUDIT_SIGNING_SECRET", "cli-test-secret")
	t.Setenv("AUDIT_LOG_LEVEL", "error")
	return dir
}

func TestPrintVerification(t *testing.T) {
	var out bytes.Buffer
	res := trail.VerificationResult{IsValid: false, TotalEvents: 2, VerifiedEvents: 1, FailedEvents: 1}
	statuses := []trail.EventStatus{
		{EventID: "e1", Sequence: 1, Status: trail.StatusVerified},
		{EventID: "e2", Sequence: 2, Status: trail.StatusFailed, Findings: []trail.IntegrityFinding{
			{EventID: "e2", Error: "Hash verification failed", Severity: trail.SeverityCritical},
		}},
	}
	printVerification(&out, "main", res, statuses)

	got := out.String()
	for _, want := range []string{"INVALID main (1/2 events verified)", "#1 e1", "#2 e2", "Hash verification failed [critical]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestVerifyExportAndMetricsCommands(t *testing.T) {
	dir := useTempEnv(t)

	a, err := newApp(context.Background())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	_, err = a.store.CreateAuditEvent(context.Background(), trail.EventInput{
		EventType: trail.EventUserAction,
		Actor:     trail.Actor{Type: trail.ActorUser, ID: "u-1"},
		Resource:  trail.Resource{Type: trail.ResourceDocument, ID: "doc-1", Classification: trail.ClassInternal},
		Action: trail.Action{
			Operation:   trail.OpRead,
			Description: "opened document",
			Category:    trail.CategoryDataProcessing,
			Outcome:     trail.OutcomeSuccess,
		},
		Technical: trail.Technical{SourceSystem: "cli-test"},
	})
	if err != nil {
		t.Fatalf("CreateAuditEvent() error = %v", err)
	}
	a.Close()

	cmd, out := testCommand()
	verifyChainID = ""
	if err := runVerify(cmd, nil); err != nil {
		t.Fatalf("runVerify() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "VALID main (1/1 events verified)") {
		t.Fatalf("unexpected verify output:\n%s", out.String())
	}

	cmd, out = testCommand()
	exportChainID, exportFormat, exportEvidence = trail.DefaultChainID, "csv", true
	exportOut = filepath.Join(dir, "main.csv")
	if err := runExport(cmd, nil); err != nil {
		t.Fatalf("runExport() error = %v", err)
	}
	data, err := os.ReadFile(exportOut)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(out.String(), trail.Checksum(data)) {
		t.Fatalf("export output should report the file checksum:\n%s", out.String())
	}

	cmd, out = testCommand()
	if err := runMetrics(cmd, nil); err != nil {
		t.Fatalf("runMetrics() error = %v", err)
	}
	var metrics trail.AuditMetrics
	if err := json.Unmarshal(out.Bytes(), &metrics); err != nil {
		t.Fatalf("metrics output is not JSON: %v", err)
	}
	if metrics.TotalEvents != 1 {
		t.Fatalf("TotalEvents = %d, want 1", metrics.TotalEvents)
	}
}

func TestVerifyUnknownChain(t *testing.T) {
	useTempEnv(t)
	cmd, _ := testCommand()
	verifyChainID = "missing"
	t.Cleanup(func() { verifyChainID = "" })
	if err := runVerify(cmd, nil); !errors.Is(err, trail.ErrChainNotFound) {
		t.Fatalf("runVerify() error = %v, want ErrChainNotFound", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeFileAtomic(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("writeFileAtomic() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != `{"ok":true}` {
		t.Fatalf("ReadFile() = %q, %v", got, err)
	}
}
