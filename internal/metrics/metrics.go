package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PointsProcessed counts anomaly points handled by the trigger engine.
	PointsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "points_processed_total",
		Help:      "Anomaly points processed by the trigger engine.",
	})

	// PointsDropped counts points dropped before evaluation, by reason.
	PointsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "points_dropped_total",
		Help:      "Anomaly points dropped before evaluation.",
	}, []string{"reason"})

	// EventsFired counts fired trigger events by level.
	EventsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "events_fired_total",
		Help:      "Trigger events fired, by severity level.",
	}, []string{"level"})

	// EventPublishFailures counts transient publish errors.
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "event_publish_failures_total",
		Help:      "Transient event publish failures.",
	})

	// EventsDeadLettered counts events written to the dead-letter log.
	EventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "events_dead_lettered_total",
		Help:      "Events written to the dead-letter log after retries ran out.",
	})

	// AlertTransitions counts alert state-machine transitions by operation.
	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alarm",
		Name:      "alert_transitions_total",
		Help:      "Alert state transitions, by operation.",
	}, []string{"op"})

	// SignalQueueDepth tracks the pending shard signal count.
	SignalQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "alarm",
		Name:      "signal_queue_depth",
		Help:      "Pending shard signals in the anomaly signal list.",
	})

	// BatchDuration observes per-shard batch processing time.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alarm",
		Name:      "batch_duration_seconds",
		Help:      "Per-shard batch processing duration.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
