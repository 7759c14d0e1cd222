// Package metrics collects per-run counters. Runs are short-lived batch
// jobs, so the registry is written to a node_exporter textfile at exit
// instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dailyintel"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	Stories            *prometheus.CounterVec
	SegmentWarnings    prometheus.Counter
	FailedPages        prometheus.Counter
	Enrichments        *prometheus.CounterVec
	EnrichmentAttempts prometheus.Histogram
	EnrichmentSeconds  prometheus.Histogram
	StageSeconds       *prometheus.GaugeVec
	LastSuccess        *prometheus.GaugeVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Stories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_total",
			Help:      "Stories structured from source documents, by dedup outcome.",
		}, []string{"outcome"}),
		SegmentWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmentation_warnings_total",
			Help:      "Segmentation fallbacks and skipped blocks.",
		}),
		FailedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_pages_total",
			Help:      "Source pages that could not be extracted.",
		}),
		Enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Image enrichment results, by final state.",
		}, []string{"state"}),
		EnrichmentAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_attempts",
			Help:      "Generation attempts per record.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		EnrichmentSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Time to enrich one record, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		StageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of the last run of each pipeline stage.",
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful command.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		m.Stories, m.SegmentWarnings, m.FailedPages, m.Enrichments,
		m.EnrichmentAttempts, m.EnrichmentSeconds, m.StageSeconds, m.LastSuccess,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveEnrichment records one finished record. It satisfies enrich.Observer.
func (m *Metrics) ObserveEnrichment(state string, attempts int, elapsed time.Duration) {
	m.Enrichments.WithLabelValues(state).Inc()
	if attempts > 0 {
		m.EnrichmentAttempts.Observe(float64(attempts))
	}
	m.EnrichmentSeconds.Observe(elapsed.Seconds())
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.StageSeconds.WithLabelValues(stage).Set(elapsed.Seconds())
}

// Succeeded stamps the completion time of command.
func (m *Metrics) Succeeded(command string, at time.Time) {
	m.LastSuccess.WithLabelValues(command).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
