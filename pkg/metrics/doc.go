/*
Package metrics provides Prometheus metrics collection and exposition for
the control plane, plus the health/readiness/liveness endpoints served
alongside /metrics.

# Collection

Collector periodically reads counts and state off a manager.Manager-shaped
interface (ListWorkers, ListPools, ListJobs, ListExecutions, ListArtifacts,
IsLeader, GetRaftStats) and sets gauges from them: orchestrator_workers_total
and orchestrator_pools_total (labeled by status), orchestrator_jobs_total,
orchestrator_executions_total (labeled by state), orchestrator_artifacts_total,
orchestrator_artifact_bytes_stored, orchestrator_queue_depth (QUEUED jobs,
labeled by namespace), and the orchestrator_raft_*
gauges (is_leader, peers_total, log_index, applied_index).

Counters and histograms are updated inline at the call site rather than by
the Collector: orchestrator_jobs_dispatched_total, orchestrator_jobs_failed_total,
orchestrator_jobs_retried_total, orchestrator_execution_duration_seconds,
orchestrator_worker_heartbeats_total, orchestrator_workers_reaped_total,
orchestrator_artifact_transfer_duration_seconds,
orchestrator_quota_exceeded_total, and the two Raft timing histograms
(orchestrator_raft_apply_duration_seconds via NewTimer, orchestrator_raft_commit_duration_seconds).

# Health

HealthChecker tracks named components (e.g. "raft", "storage") each with a
healthy bool and a status string; GetHealth aggregates them into an overall
status; GetReadiness additionally requires the critical components "raft",
"storage" and "transport" to be registered, healthy, and updated within the
last 30 seconds. Handler,
HealthHandler, ReadyHandler, and LivenessHandler return http.Handlers meant
to be mounted directly on cmd/orchestratord's HTTP mux.
*/
package metrics
