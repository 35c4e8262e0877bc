package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// FetchesTotal tracks the total number of archive chunk fetches
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "criopy_archive_fetches_total",
			Help: "Total number of archive chunk fetches",
		},
		[]string{"topic", "status"}, // status: success, error
	)

	// FetchDuration measures archive chunk fetch duration in seconds
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "criopy_archive_fetch_duration_seconds",
			Help:    "Archive chunk fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"topic"},
	)

	// RowsFetched counts total rows fetched from the archive
	RowsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "criopy_archive_rows_fetched_total",
			Help: "Total number of rows fetched from the archive",
		},
		[]string{"topic"},
	)

	// CachedTopics tracks the number of topics held per source
	CachedTopics = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "criopy_cached_topics",
			Help: "Number of topics held in the cache registry",
		},
		[]string{"source", "kind"}, // kind: telemetry, event
	)

	// TopicsRemoved counts topics removed because the archive has no series
	TopicsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "criopy_topics_removed_total",
			Help: "Total number of topics removed as missing from the archive",
		},
		[]string{"source"},
	)

	// UpdatesTotal counts current-row update notifications by outcome
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "criopy_updates_total",
			Help: "Total number of current-row update notifications",
		},
		[]string{"outcome"}, // outcome: emitted, dropped
	)

	// PlaybackPosition tracks the current playback position as a unix timestamp
	PlaybackPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "criopy_playback_position",
			Help: "Current playback position (unix timestamp)",
		},
		[]string{"source"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "criopy_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordFetch records one archive chunk fetch
func RecordFetch(topic, status string, duration float64) {
	FetchesTotal.WithLabelValues(topic, status).Inc()
	FetchDuration.WithLabelValues(topic).Observe(duration)
}

// RecordRowsFetched records rows returned by a chunk fetch
func RecordRowsFetched(topic string, count float64) {
	RowsFetched.WithLabelValues(topic).Add(count)
}

// RecordTopicRemoved records the removal of a missing topic
func RecordTopicRemoved(source string) {
	TopicsRemoved.WithLabelValues(source).Inc()
}

// RecordUpdate records a current-row notification outcome
func RecordUpdate(outcome string) {
	UpdatesTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
