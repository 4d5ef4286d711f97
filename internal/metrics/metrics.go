package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decode metrics
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_events_decoded_total",
			Help: "Total number of successfully decoded events",
		},
		[]string{"type"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_decode_errors_total",
			Help: "Total number of decode failures",
		},
		[]string{"reason"},
	)

	// Sink write metrics
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_sink_writes_total",
			Help: "Terminal sink write outcomes",
		},
		[]string{"sink", "destination", "outcome"},
	)

	WriteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_write_retries_total",
			Help: "Total number of sink write retry attempts",
		},
		[]string{"sink"},
	)

	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpipe_write_duration_seconds",
			Help:    "Duration of terminal sink writes, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// Controller metrics
	Outstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_outstanding_messages",
			Help: "Messages pulled from the transport but not yet acknowledged",
		},
	)

	Backpressured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_backpressured",
			Help: "1 while the controller has paused transport pulls",
		},
	)

	Workers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_workers",
			Help: "Current number of pipeline workers",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_queue_depth",
			Help: "Messages waiting in the internal work queue",
		},
	)

	MessagesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_messages_acked_total",
			Help: "Messages acknowledged to the transport",
		},
	)

	MessagesRedelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_messages_nacked_total",
			Help: "Messages returned to the transport for redelivery",
		},
	)

	// DLQ metrics
	DLQWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_dlq_written_total",
			Help: "Events written to the dead-letter stream",
		},
		[]string{"reason"},
	)

	// Reconciliation metrics
	SinksDiverged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_sinks_diverged",
			Help: "Events with exactly one sink write recorded past the reconciliation window",
		},
	)
)
