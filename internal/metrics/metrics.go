// Package metrics exposes Prometheus collectors for ingestion and search.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kagami"

// Metrics holds the service collectors. All collectors are registered on a private registry so
// several instances can coexist in one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal    *prometheus.CounterVec
	IngestDuration prometheus.Histogram

	SearchTotal      *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
	SearchCandidates prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_total",
				Help:      "Total number of ingested items by status and error kind",
			},
			[]string{"status", "kind"},
		),
		// Buckets: 50ms .. 60s; fetch and model inference dominate.
		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Duration of single item ingestion in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		SearchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_total",
				Help:      "Total number of searches by query type",
			},
			[]string{"query_type"},
		),
		SearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Duration of search in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SearchCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_candidates",
				Help:      "Number of stored vectors scanned per search",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordIngest records one ingestion outcome. kind is empty on success.
func (m *Metrics) RecordIngest(status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(status, kind).Inc()
	m.IngestDuration.Observe(d.Seconds())
}

// RecordSearch records one completed search.
func (m *Metrics) RecordSearch(queryType string, candidates int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchTotal.WithLabelValues(queryType).Inc()
	m.SearchDuration.Observe(d.Seconds())
	m.SearchCandidates.Observe(float64(candidates))
}
