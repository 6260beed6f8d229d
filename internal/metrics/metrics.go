package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_webhooks_received_total",
			Help: "Total number of change webhooks received by action.",
		},
		[]string{"action"}, // reconcile, remove, ignored, malformed
	)

	AuthDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_auth_denials_total",
			Help: "Total number of change events rejected by space auth policy.",
		},
		[]string{"space_id"},
	)

	LaneOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_lane_outcomes_total",
			Help: "Total number of lane outcomes by lane and outcome.",
		},
		[]string{"lane", "outcome"},
	)

	JobsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_jobs_dispatched_total",
			Help: "Total number of due jobs handed to executors.",
		},
		[]string{"lane"},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_executions_total",
			Help: "Total number of task executions by lane and status.",
		},
		[]string{"lane", "status"}, // success, failed, dead
	)

	ExecutionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harbor_scheduler_execution_latency_seconds",
			Help:    "Content API call latency per task execution.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lane"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_retries_total",
			Help: "Total number of task retries by reason.",
		},
		[]string{"reason"}, // http_5xx, http_4xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harbor_scheduler_dlq_total",
			Help: "Total number of tasks moved to the dead letter topic.",
		},
		[]string{"reason"},
	)

	PendingJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harbor_scheduler_pending_jobs",
			Help: "Jobs waiting in the delayed queue per lane.",
		},
		[]string{"lane"},
	)

	ChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harbor_scheduler_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	ChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harbor_scheduler_nsq_channel_inflight",
			Help: "In-flight messages for NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhooksReceivedTotal,
		AuthDenialsTotal,
		LaneOutcomesTotal,
		JobsDispatchedTotal,
		ExecutionsTotal,
		ExecutionLatency,
		RetriesTotal,
		DLQTotal,
		PendingJobs,
		ChannelDepth,
		ChannelInFlight,
	)
}

func RecordWebhook(action string) {
	WebhooksReceivedTotal.WithLabelValues(action).Inc()
}

func RecordAuthDenied(spaceID string) {
	AuthDenialsTotal.WithLabelValues(spaceID).Inc()
}

func RecordLaneOutcome(lane, outcome string) {
	LaneOutcomesTotal.WithLabelValues(lane, outcome).Inc()
}

func RecordDispatched(lane string, n int) {
	if n <= 0 {
		return
	}
	JobsDispatchedTotal.WithLabelValues(lane).Add(float64(n))
}

// RecordExecution counts one executor run; latency is skipped when zero.
func RecordExecution(lane, status string, latency time.Duration) {
	ExecutionsTotal.WithLabelValues(lane, status).Inc()
	if latency > 0 {
		ExecutionLatency.WithLabelValues(lane).Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func SetPendingJobs(lane string, n int) {
	PendingJobs.WithLabelValues(lane).Set(float64(n))
}

func SetChannelStats(topic, channel string, depth, inFlight int64) {
	ChannelDepth.WithLabelValues(topic, channel).Set(float64(depth))
	ChannelInFlight.WithLabelValues(topic, channel).Set(float64(inFlight))
}
