// Package telemetry exposes audit counters in Prometheus format.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainLengths is satisfied by *trail.Store.
type ChainLengths interface {
	ChainLengths() map[string]int
}

// Metrics implements trail.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	appended *prometheus.CounterVec
	findings *prometheus.CounterVec
	exports  *prometheus.CounterVec
	jobs     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_appended_total",
			Help: "Audit events appended, by chain and event type.",
		}, []string{"chain", "event_type"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_integrity_findings_total",
			Help: "Integrity findings reported by verification, by chain and severity.",
		}, []string{"chain", "severity"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_exports_total",
			Help: "Chain exports produced, by format.",
		}, []string{"format"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_export_jobs_total",
			Help: "Async export jobs reaching a terminal state.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.appended, m.findings, m.exports, m.jobs)
	m.registry.MustRegister(collectors.NewGoCollector())
	return m
}

func (m *Metrics) EventAppended(chainID, eventType string) {
	m.appended.WithLabelValues(chainID, eventType).Inc()
}

func (m *Metrics) IntegrityFinding(chainID, severity string) {
	m.findings.WithLabelValues(chainID, severity).Inc()
}

func (m *Metrics) ExportProduced(_ string, format string) {
	m.exports.WithLabelValues(format).Inc()
}

// JobFinished counts export jobs by terminal status.
func (m *Metrics) JobFinished(status string) {
	m.jobs.WithLabelValues(status).Inc()
}

// TrackChains publishes audit_chain_events{chain} from src on every scrape.
func (m *Metrics) TrackChains(src ChainLengths) {
	m.registry.MustRegister(&chainCollector{src: src})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var chainEventsDesc = prometheus.NewDesc(
	"audit_chain_events",
	"Number of events currently held in each chain.",
	[]string{"chain"}, nil,
)

type chainCollector struct {
	src ChainLengths
}

func (c *chainCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- chainEventsDesc
}

func (c *chainCollector) Collect(ch chan<- prometheus.Metric) {
	for id, n := range c.src.ChainLengths() {
		ch <- prometheus.MustNewConstMetric(chainEventsDesc, prometheus.GaugeValue, float64(n), id)
	}
}
