/*
Package types defines the core data structures shared by every package in
the control plane: Job, Execution, Pool, Worker, Artifact, QuotaPolicy,
and Event, plus the value types they're built from (ResourceUnits,
RetryPolicy, JobContent).

# Core types

Job and Execution:
  - Job: a user-submitted unit of work (command, env, resource request,
    retry policy, priority) identified by JobID and tracked through
    JobStatus (pending, queued, running, completed, failed, cancelled).
  - Execution: one attempt at running a Job on a Worker, identified by
    ExecutionID and tracked through ExecutionState (pending, running,
    succeeded, failed, cancelled). A Job may have several Executions
    across retries; only one is ever running at a time.

Capacity:
  - Pool: a named group of Workers sharing a ProvisionerKind (local,
    kubernetes, docker, vm, bare_metal) and a PoolStatus (active,
    draining, maintenance).
  - Worker: a single execution agent registered to a Pool, tracked
    through WorkerStatus (online, busy, offline) and its available
    ResourceUnits/capabilities.

Storage and fairness:
  - Artifact: a content-addressed blob (input or output of a Job),
    identified by ArtifactID and an ArtifactKind.
  - QuotaPolicy: a namespace's resource ceiling and QuotaEnforcement mode
    (checked at dispatch: enforce refuses an over-quota dispatch, warn
    publishes quota.exceeded and allows it, monitor only records usage).

Eventing:
  - Event: one fact published to pkg/events' Broker, carrying an
    EventType (e.g. EventExecutionDispatched), a Subject (the entity ID
    it concerns), and an optional Message.

All types are plain structs meant to be JSON-marshalled for storage
(pkg/storage) and Raft command payloads (pkg/lifecycle). The Worker
Transport has its own envelope type (transport.Frame), whose fields carry
these types.
*/
package types
