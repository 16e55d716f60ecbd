// Package metrics holds the Prometheus collectors for caption generation
// and the upload service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	captionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "caption",
			Name:      "requests_total",
			Help:      "The total number of caption requests by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	tokensGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "caption",
			Name:      "tokens_generated_total",
			Help:      "The total number of caption words generated.",
		},
		[]string{"source"},
	)

	stopReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "caption",
			Name:      "stop_reasons_total",
			Help:      "Why decoding ended.",
		},
		[]string{"reason"},
	)

	captionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "image_captioner",
			Subsystem: "caption",
			Name:      "duration_seconds",
			Help:      "Time taken to caption an image end to end.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "image_captioner",
			Subsystem: "decoder",
			Name:      "step_duration_seconds",
			Help:      "Time taken by one next-word prediction.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	uploadRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "http",
			Name:      "upload_requests_total",
			Help:      "The total number of upload requests by status code.",
		},
		[]string{"code"},
	)

	// Queue metrics
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "image_captioner",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of requests currently waiting in queue.",
		},
	)

	queueActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "image_captioner",
			Subsystem: "queue",
			Name:      "active_requests",
			Help:      "Number of requests currently being processed.",
		},
	)

	queueRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Total number of requests rejected due to full queue.",
		},
	)

	queueTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "image_captioner",
			Subsystem: "queue",
			Name:      "timed_out_total",
			Help:      "Total number of requests that timed out while waiting in queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		captionRequests,
		tokensGenerated,
		stopReasons,
		captionDuration,
		stepDuration,
		uploadRequests,
		queueDepth,
		queueActive,
		queueRejected,
		queueTimedOut,
	)
}

// RecordCaption records one caption attempt.
func RecordCaption(source, outcome string, seconds float64) {
	captionRequests.WithLabelValues(source, outcome).Inc()
	if outcome == "success" {
		captionDuration.WithLabelValues(source).Observe(seconds)
	}
}

// RecordTokens adds the number of words a caption produced.
func RecordTokens(source string, count int) {
	tokensGenerated.WithLabelValues(source).Add(float64(count))
}

// RecordStopReason counts a decode termination.
func RecordStopReason(reason string) {
	stopReasons.WithLabelValues(reason).Inc()
}

// RecordStepDuration records one predictor call.
func RecordStepDuration(seconds float64) {
	stepDuration.Observe(seconds)
}

// RecordUpload counts an upload response by status code.
func RecordUpload(code string) {
	uploadRequests.WithLabelValues(code).Inc()
}

// UpdateQueue sets the queue gauges.
func UpdateQueue(queued, active int64) {
	queueDepth.Set(float64(queued))
	queueActive.Set(float64(active))
}

// RecordQueueRejection increments the rejected counter
func RecordQueueRejection() {
	queueRejected.Inc()
}

// RecordQueueTimeout increments the timeout counter
func RecordQueueTimeout() {
	queueTimedOut.Inc()
}
