package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/metrics"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Applier commits a Command through consensus before it is considered
// durable. pkg/manager's raft.Raft-backed implementation is the only
// production Applier; tests may use a direct in-process one.
type Applier interface {
	Apply(cmd Command) error
}

// Coordinator drives Job and Execution transitions. Execution changes and
// TransitionJob are wrapped in a Command and committed through an Applier
// (Raft in production) before they are observable via storage reads, the
// event Broker, and per-Execution LogStreams. The Job status changes and
// the pool capacity and quota release made after an Execution finishes
// (releaseAndPropagate) are written directly through jobstore and pool,
// not through the Applier.
type Coordinator struct {
	applier Applier
	store   storage.Store
	broker  *events.Broker
	logs    *LogStreams

	jobs   *jobstore.Store
	pools  *pool.Manager
	quotas *pool.QuotaEvaluator
}

// New creates a Coordinator. logRetentionLines bounds each Execution's log
// ring buffer. jobs/pools/quotas let a finished Execution release the
// capacity and quota it reserved at dispatch and propagate its outcome onto
// the owning Job (retry, complete, or fail).
func New(applier Applier, store storage.Store, broker *events.Broker, logRetentionLines int, jobs *jobstore.Store, pools *pool.Manager, quotas *pool.QuotaEvaluator) *Coordinator {
	return &Coordinator{
		applier: applier,
		store:   store,
		broker:  broker,
		logs:    NewLogStreams(logRetentionLines),
		jobs:    jobs,
		pools:   pools,
		quotas:  quotas,
	}
}

// Logs exposes the per-Execution log ring buffers for streaming reads.
func (c *Coordinator) Logs() *LogStreams { return c.logs }

func (c *Coordinator) apply(op string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s command: %w", op, err)
	}
	return c.applier.Apply(Command{Op: op, Data: data})
}

// TransitionJob commits a Job status change, rejecting illegal transitions
// before they ever reach the Applier.
func (c *Coordinator) TransitionJob(jobID types.JobID, to types.JobStatus) error {
	job, err := c.store.GetJob(jobID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "job not found", err)
	}
	if err := ValidateJobTransition(job.Status, to); err != nil {
		return orcherr.Wrap(orcherr.KindInvalidArgument, "illegal job transition", err)
	}
	job.Status = to
	job.UpdatedAt = now()
	if err := c.apply(OpUpdateJobStatus, job); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "failed to commit job transition", err)
	}
	if to == types.JobCancelled {
		c.broker.Publish(&types.Event{Type: types.EventJobCancelled, Subject: string(jobID)})
	}
	return nil
}

// DispatchExecution records that the scheduler has handed an Execution to a
// worker and is waiting for it to confirm the process actually started.
// This does not move the Execution out of PENDING: PENDING->RUNNING only
// happens once the worker itself reports back via StartExecution, so a
// worker that never acknowledges the JobRequest frame (dead on arrival, or
// the frame lost on a flaky connection) leaves the Execution visibly stuck
// in PENDING rather than lying that it is RUNNING.
func (c *Coordinator) DispatchExecution(execID types.ExecutionID, workerID types.WorkerID, poolID types.PoolID) error {
	exec, err := c.store.GetExecution(execID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "execution not found", err)
	}
	exec.WorkerID = workerID
	exec.PoolID = poolID
	exec.DispatchedAt = now()
	if err := c.apply(OpUpdateExecution, exec); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "failed to commit execution dispatch", err)
	}
	c.broker.Publish(&types.Event{Type: types.EventExecutionDispatched, Subject: string(execID)})
	return nil
}

// StartExecution commits an Execution's move from PENDING to RUNNING, in
// response to the worker's own StatusUpdate(RUNNING) frame — the only
// caller that gets to say a process is actually running.
func (c *Coordinator) StartExecution(execID types.ExecutionID) error {
	exec, err := c.store.GetExecution(execID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "execution not found", err)
	}
	if err := ValidateExecutionTransition(exec.State, types.ExecutionRunning); err != nil {
		return orcherr.Wrap(orcherr.KindInvalidArgument, "illegal execution transition", err)
	}
	exec.State = types.ExecutionRunning
	exec.StartedAt = now()
	if err := c.apply(OpUpdateExecution, exec); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "failed to commit execution start", err)
	}
	c.broker.Publish(&types.Event{Type: types.EventExecutionStarted, Subject: string(execID)})
	return nil
}

// FinishExecution commits the terminal state of an Execution (SUCCEEDED,
// FAILED, or CANCELLED), releases the capacity and quota it held, and
// propagates the outcome onto the owning Job: SUCCEEDED completes it,
// CANCELLED cancels it, and FAILED either requeues it for another attempt
// or fails it outright once RetryPolicy.MaxAttempts is exhausted.
func (c *Coordinator) FinishExecution(execID types.ExecutionID, state types.ExecutionState, exitCode *int, errKind orcherr.Kind, errMsg string, resultArtifacts []types.ArtifactID) error {
	exec, err := c.store.GetExecution(execID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "execution not found", err)
	}
	if err := ValidateExecutionTransition(exec.State, state); err != nil {
		return orcherr.Wrap(orcherr.KindInvalidArgument, "illegal execution transition", err)
	}
	exec.State = state
	exec.ExitCode = exitCode
	exec.ErrorKind = string(errKind)
	exec.Error = errMsg
	exec.ResultArtifacts = resultArtifacts
	exec.FinishedAt = now()
	if err := c.apply(OpUpdateExecution, exec); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "failed to commit execution finish", err)
	}

	var evt types.EventType
	switch state {
	case types.ExecutionSucceeded:
		evt = types.EventExecutionSucceeded
	case types.ExecutionFailed:
		evt = types.EventExecutionFailed
	case types.ExecutionCancelled:
		evt = types.EventExecutionCancelled
	}
	c.broker.Publish(&types.Event{Type: evt, Subject: string(execID), Message: errMsg})

	if !exec.DispatchedAt.IsZero() {
		metrics.ExecutionDuration.WithLabelValues(string(state)).Observe(exec.FinishedAt.Sub(exec.DispatchedAt).Seconds())
	}

	c.releaseAndPropagate(exec)
	return nil
}

// releaseAndPropagate returns an Execution's reserved Pool capacity and
// Quota usage, then moves the owning Job to its next status. A failed Job
// with attempts left is requeued at once; no retry backoff delay is
// applied. Best-effort
// past the Execution's own commit: a failure here is logged, not returned,
// since the Execution's terminal state is already durable and must not be
// rolled back over a bookkeeping error on the Job side.
func (c *Coordinator) releaseAndPropagate(exec *types.Execution) {
	if c.jobs == nil {
		return
	}
	job, err := c.jobs.Get(exec.JobID)
	if err != nil {
		log.Errorf("lifecycle: failed to load job for finished execution", err)
		return
	}

	if exec.PoolID != "" {
		if c.pools != nil {
			if err := c.pools.ReleaseCapacity(exec.PoolID, job.Resources); err != nil {
				log.Errorf("lifecycle: failed to release pool capacity", err)
			}
		}
		if c.quotas != nil {
			c.quotas.Release(job.Namespace, job.Resources)
		}
	}

	switch exec.State {
	case types.ExecutionSucceeded:
		if err := c.jobs.MarkStatus(job.ID, types.JobCompleted); err != nil {
			log.Errorf("lifecycle: failed to mark job completed", err)
		}
	case types.ExecutionCancelled:
		if err := c.jobs.MarkStatus(job.ID, types.JobCancelled); err != nil {
			log.Errorf("lifecycle: failed to mark job cancelled", err)
		}
	case types.ExecutionFailed:
		maxAttempts := job.Retry.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		if job.Attempts+1 < maxAttempts {
			metrics.JobsRetriedTotal.Inc()
			if err := c.jobs.Requeue(job.ID, exec.Error); err != nil {
				log.Errorf("lifecycle: failed to requeue job", err)
			}
		} else {
			metrics.JobsFailedTotal.WithLabelValues(exec.ErrorKind).Inc()
			if err := c.jobs.MarkStatus(job.ID, types.JobFailed); err != nil {
				log.Errorf("lifecycle: failed to mark job failed", err)
			}
		}
	}
}

// AppendLog records one line of an Execution's output for streaming
// readers. Best-effort: never fails, since dropping a log line must never
// block the execution pipeline.
func (c *Coordinator) AppendLog(execID types.ExecutionID, line string) {
	c.logs.Append(execID, line)
}

var nowFunc = time.Now

func now() time.Time { return nowFunc() }
