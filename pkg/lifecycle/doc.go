/*
Package lifecycle implements the Execution and Job state machines and the
durable path every state change takes: Coordinator validates the
transition, wraps it in a Command, and hands it to an Applier (pkg/
manager's Raft-backed implementation in production) which commits it
through consensus before the FSM mutates storage and the event Broker
notifies subscribers.

The Command/Apply/FSM path carries Execution changes and
Coordinator.TransitionJob. Other writes (job submission, claim, requeue and
status marking in pkg/jobstore, pool and quota bookkeeping in pkg/pool,
worker records in pkg/registry) go straight to storage.Store. Log streaming (LogStreams) is a best-effort
per-Execution ring buffer so a slow or reconnecting log reader is told it
Lagged rather than blocking execution or growing memory without bound.
*/
package lifecycle
