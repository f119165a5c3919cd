package mailqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wishbubble"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "queue_size",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "sent_total",
			Help:      "Total email send attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "send_duration_seconds",
			Help:      "Time to dispatch one email",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	itemsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "fetched_total",
			Help:      "Total items fetched from the queue before the send attempt",
		},
	)

	itemsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "cleanup_deleted_total",
			Help:      "Total completed items removed by the cleanup sweep",
		},
	)
)

// recordSendOutcome records one send attempt outcome: success, retry or failed.
func recordSendOutcome(kind Kind, outcome string) {
	emailsSent.WithLabelValues(string(kind), outcome).Inc()
}

// recordSendDuration records how long one dispatch took.
func recordSendDuration(kind Kind, duration time.Duration) {
	sendDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// recordFetched records the number of items pulled from the queue.
func recordFetched(count int) {
	itemsFetched.Add(float64(count))
}

// recordCleanup records the number of items removed by a cleanup sweep.
func recordCleanup(count int64) {
	itemsCleaned.Add(float64(count))
}

// RecordQueueStats updates the queue size gauges.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(StatusProcessing)).Set(float64(stats.Processing))
	queueSize.WithLabelValues(string(StatusCompleted)).Set(float64(stats.Completed))
	queueSize.WithLabelValues(string(StatusFailed)).Set(float64(stats.Failed))
}
