package trail

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
)

type fakePDF struct {
	html string
}

func (f *fakePDF) RenderPDF(_ context.Context, html string) ([]byte, error) {
	f.html = html
	return []byte("%PDF-1.4 fake"), nil
}

func TestExportJSONRoundTrip(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "", 4)

	res, err := s.ExportAuditChain(context.Background(), DefaultChainID, FormatJSON, true)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	if res.MimeType != "application/json" || !strings.HasPrefix(res.Filename, "audit_chain_main_") || !strings.HasSuffix(res.Filename, ".json") {
		t.Fatalf("unexpected export descriptor %s %s", res.MimeType, res.Filename)
	}
	if strings.ContainsAny(strings.TrimSuffix(strings.TrimPrefix(res.Filename, "audit_chain_main_"), ".json"), ":.") {
		t.Fatalf("timestamp in filename must not contain ':' or '.': %s", res.Filename)
	}

	var doc struct {
		Chain          Chain `json:"chain"`
		ExportMetadata struct {
			TotalEvents     int  `json:"totalEvents"`
			IncludeEvidence bool `json:"includeEvidence"`
		} `json:"exportMetadata"`
	}
	if err := json.Unmarshal(res.Data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	original, _ := s.Chain("")
	if doc.ExportMetadata.TotalEvents != 4 || doc.Chain.Metadata.TotalEvents != 4 || !doc.ExportMetadata.IncludeEvidence {
		t.Fatalf("unexpected export metadata %+v", doc.ExportMetadata)
	}
	for i, e := range doc.Chain.Events {
		if e.CurrentHash != original.Events[i].CurrentHash {
			t.Fatalf("event %d hash differs after round trip", i)
		}
		hash, err := EventHash(e)
		if err != nil || hash != e.CurrentHash {
			t.Fatalf("event %d does not re-hash after round trip", i)
		}
	}
	if !s.VerifyExport(res) {
		t.Fatalf("export envelope should verify")
	}
	res.Data = append(res.Data, ' ')
	if s.VerifyExport(res) {
		t.Fatalf("modified export must not verify")
	}
}

func TestExportWithoutEvidence(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "", 2)
	res, err := s.ExportAuditChain(context.Background(), "", FormatJSON, false)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	if strings.Contains(string(res.Data), `"evidence"`) {
		t.Fatalf("evidence should be stripped")
	}
	chain, _ := s.Chain("")
	if chain.Events[0].Evidence == nil {
		t.Fatalf("stripping evidence from an export must not touch the chain")
	}
}

func TestExportCSV(t *testing.T) {
	s := newTestStore(t)
	in := sampleInput(0)
	in.Action.Description = `renamed "draft" to final`
	in.Compliance.Frameworks = []Framework{GDPR, SOX}
	if _, err := s.CreateAuditEvent(context.Background(), in); err != nil {
		t.Fatalf("CreateAuditEvent() error = %v", err)
	}
	in = sampleInput(1)
	in.Actor.Email = ""
	if _, err := s.CreateAuditEvent(context.Background(), in); err != nil {
		t.Fatalf("CreateAuditEvent() error = %v", err)
	}

	res, err := s.ExportAuditChain(context.Background(), "", FormatCSV, true)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	if res.MimeType != "text/csv" {
		t.Fatalf("unexpected mime type %s", res.MimeType)
	}
	lines := strings.Split(string(res.Data), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	wantHeader := `"ID","Sequence","Timestamp","Event Type","Actor","Resource","Action","Outcome","Compliance Frameworks","Hash"`
	if lines[0] != wantHeader {
		t.Fatalf("unexpected header %s", lines[0])
	}
	for _, fragment := range []string{`"1"`, `"user0@example.com"`, `"document:doc-0"`, `"renamed ""draft"" to final"`, `"gdpr;sox"`} {
		if !strings.Contains(lines[1], fragment) {
			t.Fatalf("row 1 missing %s: %s", fragment, lines[1])
		}
	}
	if !strings.Contains(lines[2], `"user-1"`) {
		t.Fatalf("actor should fall back to id: %s", lines[2])
	}
}

func TestExportXML(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "", 3)
	res, err := s.ExportAuditChain(context.Background(), "", FormatXML, true)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	body := string(res.Data)
	if !strings.HasPrefix(body, "<?xml") || !strings.Contains(body, `<auditChain id="main" name="Main Audit Chain">`) {
		t.Fatalf("unexpected xml prologue: %s", body[:80])
	}
	var doc xmlChain
	if err := xml.Unmarshal(res.Data, &doc); err != nil {
		t.Fatalf("xml.Unmarshal() error = %v", err)
	}
	if doc.Metadata.TotalEvents != 3 || len(doc.Events.Event) != 3 || doc.Events.Event[2].Sequence != 3 {
		t.Fatalf("unexpected xml document %+v", doc)
	}

	empty := newTestStore(t)
	res, _ = empty.ExportAuditChain(context.Background(), "", FormatXML, true)
	if !strings.Contains(string(res.Data), "<events></events>") {
		t.Fatalf("empty chain should still carry an events element: %s", res.Data)
	}
}

func TestExportPDFFallsBackToHTML(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "", 2)
	res, err := s.ExportAuditChain(context.Background(), "", FormatPDF, true)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	if res.MimeType != "text/html" || res.RenderedAs != "html" || !strings.HasSuffix(res.Filename, ".html") {
		t.Fatalf("unexpected html fallback %s %s %s", res.MimeType, res.RenderedAs, res.Filename)
	}
	if !strings.Contains(string(res.Data), "Audit Chain Report: Main Audit Chain") {
		t.Fatalf("report title missing")
	}
}

func TestExportPDFWithRenderer(t *testing.T) {
	pdf := &fakePDF{}
	s := newTestStore(t, func(o *Options) { o.PDFRenderer = pdf })
	appendN(t, s, "", 1)
	res, err := s.ExportAuditChain(context.Background(), "", FormatPDF, true)
	if err != nil {
		t.Fatalf("ExportAuditChain() error = %v", err)
	}
	if res.MimeType != "application/pdf" || !strings.HasSuffix(res.Filename, ".pdf") || string(res.Data) != "%PDF-1.4 fake" {
		t.Fatalf("unexpected pdf export %s %s", res.MimeType, res.Filename)
	}
	if !strings.Contains(pdf.html, "document 0 edited") {
		t.Fatalf("renderer should receive the html report")
	}
	if !s.VerifyExport(res) {
		t.Fatalf("pdf envelope should verify")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ExportAuditChain(context.Background(), "", Format("yaml"), true)
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) || unsupported.Format != "yaml" {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if _, err := ParseFormat("yaml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat() expected ErrUnsupportedFormat, got %v", err)
	}
	if f, err := ParseFormat(" CSV "); err != nil || f != FormatCSV {
		t.Fatalf("ParseFormat() = %s, %v", f, err)
	}
}
