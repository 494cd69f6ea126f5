// Package metrics provides Prometheus metrics for nextdnsbridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "nextdnsbridge"

var (
	// BuildInfo exposes version information as labels on a constant gauge.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information about nextdnsbridge.",
		},
		[]string{"version", "go_version"},
	)

	// CoordinatorFetchesTotal counts fetch attempts by outcome.
	// result is "success" or an error kind such as "timeout".
	CoordinatorFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "coordinator_fetches_total",
			Help:      "Total number of coordinator fetches by result.",
		},
		[]string{"coordinator", "result"},
	)

	// CoordinatorFetchDuration observes how long fetches take.
	CoordinatorFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "coordinator_fetch_duration_seconds",
			Help:      "Duration of coordinator fetches in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"coordinator"},
	)

	// CoordinatorState reports the current state (0=unstarted, 1=healthy,
	// 2=degraded, 3=failed).
	CoordinatorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "coordinator_state",
			Help:      "Coordinator state (0=unstarted, 1=healthy, 2=degraded, 3=failed).",
		},
		[]string{"coordinator"},
	)

	// CoordinatorConsecutiveFailures reports failures since the last success.
	CoordinatorConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "coordinator_consecutive_failures",
			Help:      "Number of consecutive failed fetches.",
		},
		[]string{"coordinator"},
	)

	// ListenerPanicsTotal counts listener panics recovered by coordinators.
	ListenerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "listener_panics_total",
			Help:      "Total number of recovered listener panics.",
		},
		[]string{"coordinator"},
	)

	// EntriesReady is the number of entries whose coordinators are running.
	EntriesReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "entries_ready",
			Help:      "Number of entries that are set up and polling.",
		},
	)

	// EntriesPending is the number of entries waiting for a setup retry.
	EntriesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "entries_pending",
			Help:      "Number of entries waiting to retry setup.",
		},
	)

	// EntrySetupAttemptsTotal counts setup attempts by profile and result.
	EntrySetupAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "entry_setup_attempts_total",
			Help:      "Total number of entry setup attempts by result.",
		},
		[]string{"profile", "result"},
	)

	// ActionsTotal counts button presses and switch toggles by result.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Total number of entity actions by result.",
		},
		[]string{"action", "result"},
	)

	// MQTTMessagesPublished counts messages sent to the broker.
	MQTTMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_messages_published_total",
			Help:      "Total number of MQTT messages published by kind.",
		},
		[]string{"kind"},
	)

	// MQTTPublishErrors counts failed publishes.
	MQTTPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_publish_errors_total",
			Help:      "Total number of failed MQTT publishes.",
		},
	)

	// MQTTQueueDepth is the number of topics waiting to be published.
	MQTTQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "mqtt_queue_depth",
			Help:      "Number of MQTT topics waiting to be published.",
		},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
