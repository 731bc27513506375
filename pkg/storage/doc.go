/*
Package storage provides BoltDB-backed persistence for orchestrator state.

	<dataDir>/orchestrator.db
	  jobs, executions, pools, workers, artifacts, quotas  (one bucket each, keyed by ID)
	  ca                                                    (fixed key, encrypted CA material)

Every entity is JSON-marshalled into its bucket; reads use db.View, writes
use db.Update. UpdateX is an alias for CreateX (both are a Put, so writing
an existing key upserts it). There is no explicit locking here beyond
bbolt's own transactions. Several packages write: the FSM in pkg/lifecycle
for Execution and Job transitions, and pkg/jobstore, pkg/pool,
pkg/registry, pkg/scheduler, pkg/artifact, pkg/security and pkg/facade
(quota records) directly.
*/
package storage
