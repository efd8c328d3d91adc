package trail

import (
	"bytes"
	"html/template"
	"time"
)

type reportRow struct {
	Sequence    int
	Timestamp   string
	EventType   string
	Description string
	Outcome     string
	Hash        string
}

func (s *Store) renderHTMLReport(chain Chain, generated time.Time) (string, error) {
	rows := make([]reportRow, 0, len(chain.Events))
	for _, e := range chain.Events {
		rows = append(rows, reportRow{
			Sequence:    e.Sequence,
			Timestamp:   e.Timestamp.In(s.reportLoc).Format("2006/01/02 15:04:05"),
			EventType:   string(e.EventType),
			Description: e.Action.Description,
			Outcome:     string(e.Action.Outcome),
			Hash:        shortHash(e.CurrentHash),
		})
	}
	var buf bytes.Buffer
	err := reportTemplate.Execute(&buf, struct {
		Chain     Chain
		Rows      []reportRow
		Generated string
	}{
		Chain:     chain,
		Rows:      rows,
		Generated: generated.In(s.reportLoc).Format("2006/01/02 15:04"),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}

var reportTemplate = template.Must(template.New("chain-report").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Audit Chain Report</title>
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #0f172a; }
    h1 { margin: 0 0 8px; }
    .meta { margin-bottom: 16px; }
    .label { font-size: 12px; color: #475569; }
    .value { font-size: 14px; margin-bottom: 4px; }
    .failed { color: #b91c1c; font-weight: 700; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { padding: 6px; border-bottom: 1px solid #e2e8f0; text-align: left; font-size: 12px; }
    th { background: #f8fafc; }
    code { font-size: 11px; }
  </style>
</head>
<body>
  <h1>Audit Chain Report: {{.Chain.Name}}</h1>
  <div class="meta">
    <div class="label">Generated</div>
    <div class="value">{{.Generated}}</div>
    <div class="label">Total Events</div>
    <div class="value">{{.Chain.Metadata.TotalEvents}}</div>
    <div class="label">Integrity Verified</div>
    <div class="value{{if not .Chain.Metadata.IntegrityVerified}} failed{{end}}">{{.Chain.Metadata.IntegrityVerified}}</div>
  </div>
  <table>
    <thead>
      <tr><th>Sequence</th><th>Timestamp</th><th>Event Type</th><th>Description</th><th>Outcome</th><th>Hash</th></tr>
    </thead>
    <tbody>
    {{range .Rows}}
      <tr>
        <td>{{.Sequence}}</td>
        <td>{{.Timestamp}}</td>
        <td>{{.EventType}}</td>
        <td>{{.Description}}</td>
        <td>{{.Outcome}}</td>
        <td><code>{{.Hash}}</code></td>
      </tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>
`))
