package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	OperationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrun_operations_enqueued_total",
			Help: "Total number of task operations enqueued, by operation kind",
		},
		[]string{"operation"},
	)

	OperationsDequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrun_operations_dequeued_total",
			Help: "Total number of task operations dequeued by a worker, by operation kind",
		},
		[]string{"operation"},
	)

	OperationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrun_operations_dropped_total",
			Help: "Total number of queue envelopes dropped (deserialization or unknown operation), by reason",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskrun_queue_depth",
			Help: "Last observed depth of the task operation queue",
		},
	)

	EnqueueLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskrun_enqueue_latency_seconds",
			Help:    "Time taken for a producer call to durably hand off an operation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker / task state machine metrics
	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrun_task_transitions_total",
			Help: "Total number of task state transitions, by resulting state",
		},
		[]string{"state"},
	)

	TaskHandlerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskrun_task_handler_duration_seconds",
			Help:    "Time spent inside a single handler invocation",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskrun_tasks_in_flight",
			Help: "Number of tasks currently being processed by a worker",
		},
	)

	// Push-notification metrics
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrun_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts, by outcome",
		},
		[]string{"outcome"}, // delivered | retried | failed | breaker_open
	)

	WebhookDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskrun_webhook_delivery_duration_seconds",
			Help:    "Time taken for a webhook POST to complete (including retries)",
			Buckets: prometheus.DefBuckets,
		},
	)

	PushConfigsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskrun_push_configs_registered",
			Help: "Number of task-specific webhook configs currently held in memory",
		},
	)

	// Storage metrics
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrun_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration, by operation name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsEnqueued,
		OperationsDequeued,
		OperationsDropped,
		QueueDepth,
		EnqueueLatency,
		TaskTransitionsTotal,
		TaskHandlerDuration,
		TasksInFlight,
		WebhookDeliveriesTotal,
		WebhookDeliveryDuration,
		PushConfigsRegistered,
		StorageOpDuration,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
