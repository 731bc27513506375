package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_workers_total",
			Help: "Total number of registered workers by pool and status",
		},
		[]string{"pool", "status"},
	)

	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_pools_total",
			Help: "Total number of pools by status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_jobs_total",
			Help: "Total number of jobs",
		},
	)

	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_executions_total",
			Help: "Total number of executions by state",
		},
		[]string{"state"},
	)

	ArtifactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_artifacts_total",
			Help: "Total number of cached artifacts",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Number of jobs waiting to be dispatched, by namespace",
		},
		[]string{"namespace"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_scheduling_latency_seconds",
			Help:    "Time from job submission to dispatch decision, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_dispatched_total",
			Help: "Total number of executions dispatched to a worker",
		},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_failed_total",
			Help: "Total number of executions that ended in failure, by reason",
		},
		[]string{"reason"},
	)

	JobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_retried_total",
			Help: "Total number of executions retried after failure",
		},
	)

	// Execution lifecycle metrics
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_execution_duration_seconds",
			Help:    "Wall-clock execution duration in seconds, by terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
		},
		[]string{"state"},
	)

	// Worker transport metrics
	WorkerHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_worker_heartbeats_total",
			Help: "Total number of heartbeats received from workers",
		},
		[]string{"worker_id"},
	)

	WorkersReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_workers_reaped_total",
			Help: "Total number of workers marked offline for missed heartbeats",
		},
	)

	// Artifact cache metrics
	ArtifactBytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_artifact_bytes_stored",
			Help: "Total bytes of artifact content held in the cache",
		},
	)

	ArtifactTransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_artifact_transfer_duration_seconds",
			Help:    "Time taken to upload or download an artifact, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	// Quota metrics
	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_quota_exceeded_total",
			Help: "Total number of submissions rejected or flagged for exceeding a namespace quota",
		},
		[]string{"namespace", "enforcement"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ArtifactsTotal)
	prometheus.MustRegister(QueueDepth)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)

	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(JobsDispatchedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(ExecutionDuration)

	prometheus.MustRegister(WorkerHeartbeatsTotal)
	prometheus.MustRegister(WorkersReapedTotal)

	prometheus.MustRegister(ArtifactBytesStored)
	prometheus.MustRegister(ArtifactTransferDuration)

	prometheus.MustRegister(QuotaExceededTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
