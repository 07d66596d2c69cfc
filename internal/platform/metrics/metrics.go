// Package metrics provides Prometheus metrics collection for the enrichment
// runtime.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmesh-oss/enrich/internal/platform/envmode"
)

// Metrics holds all Prometheus metrics for the enrichment runtime.
type Metrics struct {
	// Admin HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Routing metrics
	EventsRoutedTotal *prometheus.CounterVec // labels: sink (good|pii|bad)
	RecordsCheckpointedTotal prometheus.Counter

	// Enrichment metrics
	EnrichmentDuration *prometheus.HistogramVec // labels: enrichment
	EnrichmentFailuresTotal *prometheus.CounterVec // labels: enrichment

	// Schema validation metrics
	SchemaValidationsTotal *prometheus.CounterVec // labels: outcome (ok|invalid|resolution_error)
	SchemaResolverRetriesTotal prometheus.Counter
	SchemaCacheHitsTotal   *prometheus.CounterVec // labels: cache (schema|result), outcome (hit|miss)

	// Asset refresh metrics
	AssetRefreshTotal    *prometheus.CounterVec // labels: outcome (swapped|unchanged|failed)
	AssetRefreshDuration prometheus.Histogram
	PauseGateClosedSeconds prometheus.Histogram

	// Process metrics
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
	ProcessRSSBytes prometheus.Gauge
	ProcessCPUSeconds prometheus.Gauge
}

// New creates a new Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enrich_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "enrich_http_requests_in_flight",
				Help: "Current number of admin HTTP requests being processed",
			},
		),

		EventsRoutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_events_routed_total",
				Help: "Total number of events routed to a sink",
			},
			[]string{"sink"},
		),
		RecordsCheckpointedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "enrich_records_checkpointed_total",
				Help: "Total number of source records checkpointed",
			},
		),

		EnrichmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enrich_enrichment_duration_seconds",
				Help:    "Per-enrichment execution duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"enrichment"},
		),
		EnrichmentFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_enrichment_failures_total",
				Help: "Total number of per-event enrichment failures",
			},
			[]string{"enrichment"},
		),

		SchemaValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_schema_validations_total",
				Help: "Total number of schema validations by outcome",
			},
			[]string{"outcome"},
		),
		SchemaResolverRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "enrich_schema_resolver_retries_total",
				Help: "Total number of schema resolver retry attempts",
			},
		),
		SchemaCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_schema_cache_total",
				Help: "Schema validator LRU cache hits/misses",
			},
			[]string{"cache", "outcome"},
		),

		AssetRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_asset_refresh_total",
				Help: "Total number of asset refresh cycles by outcome",
			},
			[]string{"outcome"},
		),
		AssetRefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enrich_asset_refresh_duration_seconds",
				Help:    "Duration of an asset refresh cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		PauseGateClosedSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enrich_pause_gate_closed_seconds",
				Help:    "How long the pause gate stayed closed during a swap",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "enrich_uptime_seconds",
				Help: "Runtime uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enrich_info",
				Help: "Runtime build/deployment information",
			},
			[]string{"service", "version", "environment"},
		),
		ProcessRSSBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "enrich_process_rss_bytes",
				Help: "Resident set size of the enrichment process",
			},
		),
		ProcessCPUSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "enrich_process_cpu_seconds_total",
				Help: "Cumulative CPU time consumed by the enrichment process",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.EventsRoutedTotal,
			m.RecordsCheckpointedTotal,
			m.EnrichmentDuration,
			m.EnrichmentFailuresTotal,
			m.SchemaValidationsTotal,
			m.SchemaResolverRetriesTotal,
			m.SchemaCacheHitsTotal,
			m.AssetRefreshTotal,
			m.AssetRefreshDuration,
			m.PauseGateClosedSeconds,
			m.ServiceUptime,
			m.ServiceInfo,
			m.ProcessRSSBytes,
			m.ProcessCPUSeconds,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an admin HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordRouted records an event routed to good/pii/bad.
func (m *Metrics) RecordRouted(sink string) {
	m.EventsRoutedTotal.WithLabelValues(sink).Inc()
}

// RecordCheckpoint records a source record checkpoint.
func (m *Metrics) RecordCheckpoint() {
	m.RecordsCheckpointedTotal.Inc()
}

// RecordEnrichment records one enrichment invocation's duration and, on
// failure, increments its failure counter.
func (m *Metrics) RecordEnrichment(name string, duration time.Duration, failed bool) {
	m.EnrichmentDuration.WithLabelValues(name).Observe(duration.Seconds())
	if failed {
		m.EnrichmentFailuresTotal.WithLabelValues(name).Inc()
	}
}

// RecordSchemaValidation records a schema validation outcome.
func (m *Metrics) RecordSchemaValidation(outcome string) {
	m.SchemaValidationsTotal.WithLabelValues(outcome).Inc()
}

// RecordSchemaResolverRetry records one resolver retry attempt.
func (m *Metrics) RecordSchemaResolverRetry() {
	m.SchemaResolverRetriesTotal.Inc()
}

// RecordSchemaCache records an LRU cache hit or miss for "schema" or "result".
func (m *Metrics) RecordSchemaCache(cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.SchemaCacheHitsTotal.WithLabelValues(cache, outcome).Inc()
}

// RecordAssetRefresh records one asset-refresh cycle outcome and duration.
func (m *Metrics) RecordAssetRefresh(outcome string, duration time.Duration) {
	m.AssetRefreshTotal.WithLabelValues(outcome).Inc()
	m.AssetRefreshDuration.Observe(duration.Seconds())
}

// RecordPauseGateClosed records how long the pause gate stayed closed.
func (m *Metrics) RecordPauseGateClosed(d time.Duration) {
	m.PauseGateClosedSeconds.Observe(d.Seconds())
}

// UpdateUptime updates the runtime uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// UpdateProcessStats updates the process RSS/CPU gauges.
func (m *Metrics) UpdateProcessStats(rssBytes uint64, cpuSeconds float64) {
	m.ProcessRSSBytes.Set(float64(rssBytes))
	m.ProcessCPUSeconds.Set(cpuSeconds)
}

// IncrementInFlight increments the in-flight admin request counter.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight admin request counter.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func getEnvironment() string {
	return string(envmode.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !envmode.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("enrich")
	}
	return globalMetrics
}
