package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, retriesScheduledTotal, deadLettersTotal, ingestTotal, handlerLatency)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_processed_total",
		Help: "Stage executions by stage and outcome.",
	},
	[]string{"stage", "status"}, // 'advanced', 'retried', 'dead_lettered', 'parked', 'completed'
)

var retriesScheduledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_retries_scheduled_total",
		Help: "Retries scheduled with backoff, by stage.",
	},
	[]string{"stage"},
)

var deadLettersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_dead_letters_total",
		Help: "Jobs moved to the dead letter queue, by stage.",
	},
	[]string{"stage"},
)

var ingestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_ingest_total",
		Help: "Webhook ingestions by outcome.",
	},
	[]string{"outcome"}, // 'accepted', 'duplicate'
)

var handlerLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipeline_handler_latency_ms",
		Help:    "Stage handler latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 15000, 60000},
	},
	[]string{"stage", "success"},
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncJobProcessed(stage, status string) {
	jobsProcessedTotal.WithLabelValues(norm(stage), norm(status)).Inc()
}

func IncRetryScheduled(stage string) {
	retriesScheduledTotal.WithLabelValues(norm(stage)).Inc()
}

func IncDeadLetter(stage string) {
	deadLettersTotal.WithLabelValues(norm(stage)).Inc()
}

func IncIngest(outcome string) {
	ingestTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveHandlerLatency(stage string, latencyMs int, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	handlerLatency.WithLabelValues(norm(stage), s).Observe(float64(latencyMs))
}
