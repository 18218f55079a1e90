package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckrelay_relay_requests_total",
			Help: "Total number of relayed messages by resolution mode.",
		},
		[]string{"mode"},
	)
	sqlClassifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckrelay_sql_classified_total",
			Help: "Total number of inbound messages classified as SQL.",
		},
	)
	executionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckrelay_execution_failures_total",
			Help: "Total number of failed SQL executions, including fallback attempts.",
		},
	)
	completionFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckrelay_completion_fallbacks_total",
			Help: "Total number of LLM fallback round-trips after a failed direct execution.",
		},
	)
	completionFramesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckrelay_completion_frames_skipped_total",
			Help: "Total number of malformed completion stream frames skipped.",
		},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckrelay_pipeline_duration_seconds",
			Help:    "End-to-end relay pipeline latency per request.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(
		relayRequestsTotal,
		sqlClassifiedTotal,
		executionFailuresTotal,
		completionFallbacksTotal,
		completionFramesSkippedTotal,
		pipelineDurationSeconds,
	)
}

func ObserveRelayRequest(mode string, elapsed time.Duration) {
	relayRequestsTotal.WithLabelValues(mode).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementSQLClassified() {
	sqlClassifiedTotal.Inc()
}

func IncrementExecutionFailure() {
	executionFailuresTotal.Inc()
}

func IncrementCompletionFallback() {
	completionFallbacksTotal.Inc()
}

func IncrementCompletionFrameSkipped() {
	completionFramesSkippedTotal.Inc()
}
