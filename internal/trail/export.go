package trail

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts json, csv, xml and pdf, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatXML, FormatPDF:
		return f, nil
	}
	return "", &UnsupportedFormatError{Format: s}
}

type ExportIntegrity struct {
	Checksum  string    `json:"checksum"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// ExportResult carries the serialized chain. For FormatPDF without a
// configured renderer the data is the HTML report, MimeType is text/html,
// the filename ends in .html and RenderedAs is "html".
type ExportResult struct {
	Data       []byte          `json:"data"`
	Filename   string          `json:"filename"`
	MimeType   string          `json:"mimeType"`
	Format     Format          `json:"format"`
	RenderedAs string          `json:"renderedAs"`
	Integrity  ExportIntegrity `json:"integrity"`
}

type exportMetadata struct {
	ExportDate        time.Time `json:"exportDate"`
	IncludeEvidence   bool      `json:"includeEvidence"`
	TotalEvents       int       `json:"totalEvents"`
	IntegrityVerified bool      `json:"integrityVerified"`
}

type jsonExport struct {
	Chain          Chain          `json:"chain"`
	ExportMetadata exportMetadata `json:"exportMetadata"`
}

// ExportAuditChain serializes a chain and signs the serialized bytes.
// includeEvidence=false drops evidence references from the JSON export.
func (s *Store) ExportAuditChain(ctx context.Context, chainID string, format Format, includeEvidence bool) (ExportResult, error) {
	chain, err := s.Chain(chainID)
	if err != nil {
		return ExportResult{}, err
	}
	if !includeEvidence {
		for i := range chain.Events {
			chain.Events[i].Evidence = nil
		}
	}

	now := s.timestamp()
	var (
		data       []byte
		mimeType   string
		ext        = string(format)
		renderedAs = string(format)
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(jsonExport{
			Chain: chain,
			ExportMetadata: exportMetadata{
				ExportDate:        now,
				IncludeEvidence:   includeEvidence,
				TotalEvents:       len(chain.Events),
				IntegrityVerified: chain.Metadata.IntegrityVerified,
			},
		}, "", "  ")
		mimeType = "application/json"
	case FormatCSV:
		data = []byte(chainCSV(chain.Events))
		mimeType = "text/csv"
	case FormatXML:
		data, err = chainXML(chain)
		mimeType = "application/xml"
	case FormatPDF:
		var html string
		html, err = s.renderHTMLReport(chain, now)
		if err != nil {
			break
		}
		if s.pdf == nil {
			data = []byte(html)
			mimeType = "text/html"
			ext = "html"
			renderedAs = "html"
			break
		}
		data, err = s.pdf.RenderPDF(ctx, html)
		mimeType = "application/pdf"
	default:
		return ExportResult{}, &UnsupportedFormatError{Format: string(format)}
	}
	if err != nil {
		return ExportResult{}, fmt.Errorf("export %s as %s: %w", chain.ID, format, err)
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z07:00"))
	s.obs.ExportProduced(chain.ID, string(format))
	s.logger.Info("audit chain exported", "chain", chain.ID, "format", format, "renderedAs", renderedAs, "bytes", len(data))
	return ExportResult{
		Data:       data,
		Filename:   fmt.Sprintf("audit_chain_%s_%s.%s", chain.ID, stamp, ext),
		MimeType:   mimeType,
		Format:     format,
		RenderedAs: renderedAs,
		Integrity: ExportIntegrity{
			Checksum:  hashBytes(data),
			Signature: sign(s.keys.Signing, data),
			Timestamp: now,
		},
	}, nil
}

// VerifyExport checks that data still matches its integrity envelope.
func (s *Store) VerifyExport(res ExportResult) bool {
	return hashBytes(res.Data) == res.Integrity.Checksum &&
		validSignature(s.keys.Signing, res.Data, res.Integrity.Signature)
}

var csvHeader = []string{
	"ID", "Sequence", "Timestamp", "Event Type", "Actor", "Resource",
	"Action", "Outcome", "Compliance Frameworks", "Hash",
}

func chainCSV(events []AuditEvent) string {
	rows := make([]string, 0, len(events)+1)
	rows = append(rows, csvRow(csvHeader))
	for _, e := range events {
		actor := e.Actor.Email
		if actor == "" {
			actor = e.Actor.ID
		}
		frameworks := make([]string, len(e.Compliance.Frameworks))
		for i, f := range e.Compliance.Frameworks {
			frameworks[i] = string(f)
		}
		rows = append(rows, csvRow([]string{
			e.ID,
			strconv.Itoa(e.Sequence),
			formatTimestamp(e.Timestamp),
			string(e.EventType),
			actor,
			string(e.Resource.Type) + ":" + e.Resource.ID,
			e.Action.Description,
			string(e.Action.Outcome),
			strings.Join(frameworks, ";"),
			e.CurrentHash,
		}))
	}
	return strings.Join(rows, "\n")
}

// csvRow quotes every cell, including ones encoding/csv would leave bare.
func csvRow(cells []string) string {
	quoted := make([]string, len(cells))
	for i, c := range cells {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

type xmlChain struct {
	XMLName  xml.Name    `xml:"auditChain"`
	ID       string      `xml:"id,attr"`
	Name     string      `xml:"name,attr"`
	Metadata xmlMetadata `xml:"metadata"`
	Events   xmlEvents   `xml:"events"`
}

type xmlMetadata struct {
	TotalEvents       int  `xml:"totalEvents"`
	IntegrityVerified bool `xml:"integrityVerified"`
}

type xmlEvents struct {
	Event []xmlEvent `xml:"event"`
}

type xmlEvent struct {
	ID        string `xml:"id,attr"`
	Sequence  int    `xml:"sequence,attr"`
	Timestamp string `xml:"timestamp"`
	EventType string `xml:"eventType"`
	Hash      string `xml:"hash"`
}

func chainXML(chain Chain) ([]byte, error) {
	doc := xmlChain{
		ID:   chain.ID,
		Name: chain.Name,
		Metadata: xmlMetadata{
			TotalEvents:       chain.Metadata.TotalEvents,
			IntegrityVerified: chain.Metadata.IntegrityVerified,
		},
	}
	for _, e := range chain.Events {
		doc.Events.Event = append(doc.Events.Event, xmlEvent{
			ID:        e.ID,
			Sequence:  e.Sequence,
			Timestamp: formatTimestamp(e.Timestamp),
			EventType: string(e.EventType),
			Hash:      e.CurrentHash,
		})
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
