package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(queueDepth, dlqSize, infraAlertsTotal)
}

var queueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Ready jobs in the primary queue, by stage.",
	},
	[]string{"stage"},
)

var dlqSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "pipeline_dlq_size",
		Help: "Entries currently in the dead letter queue.",
	},
)

var infraAlertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_infrastructure_alerts_total",
		Help: "Infrastructure failures escalated by the worker pool.",
	},
	[]string{"component"}, // 'queue', 'archive', 'dlq'
)

func SetQueueDepth(stage string, depth int) {
	queueDepth.WithLabelValues(norm(stage)).Set(float64(depth))
}

func SetDLQSize(n int) {
	dlqSize.Set(float64(n))
}

func IncInfraAlert(component string) {
	infraAlertsTotal.WithLabelValues(norm(component)).Inc()
}
