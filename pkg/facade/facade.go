// Package facade is the public core facade: a thin struct wrapping the Job
// Store, Scheduler, Lifecycle, Pool Manager, Artifact Cache, and Quota
// Evaluator behind exactly the operations a REST or CLI adapter would call.
// It is not itself wire-exposed; cmd/orchestratord imports it directly
// rather than looping back through a client of its own.
package facade

import (
	"github.com/orchestrator/controlplane/pkg/artifact"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/scheduler"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Facade is the single entry point every adapter (REST, CLI, or test) uses
// to drive the control plane.
type Facade struct {
	store  storage.Store
	jobs   *jobstore.Store
	sched  *scheduler.Scheduler
	coord  *lifecycle.Coordinator
	pools  *pool.Manager
	quotas *pool.QuotaEvaluator
	cache  *artifact.Cache
	broker *events.Broker
}

// New assembles a Facade from the components a manager.Manager already
// constructed.
func New(store storage.Store, jobs *jobstore.Store, sched *scheduler.Scheduler, coord *lifecycle.Coordinator, pools *pool.Manager, quotas *pool.QuotaEvaluator, cache *artifact.Cache, broker *events.Broker) *Facade {
	return &Facade{store: store, jobs: jobs, sched: sched, coord: coord, pools: pools, quotas: quotas, cache: cache, broker: broker}
}

// SubmitJob enqueues a new Job and wakes the Scheduler for an immediate
// dispatch attempt.
func (f *Facade) SubmitJob(def jobstore.Definition) (*types.Job, error) {
	job, err := f.jobs.Submit(def)
	if err != nil {
		return nil, err
	}
	f.sched.Wake()
	return job, nil
}

// SubmitJobFromTemplate applies overrides on top of base before
// submitting, letting callers parameterize a stored template's Content/
// Resources/Labels without hand-assembling a Definition each time.
func (f *Facade) SubmitJobFromTemplate(base jobstore.Definition, overrides func(*jobstore.Definition)) (*types.Job, error) {
	def := base
	if overrides != nil {
		overrides(&def)
	}
	return f.SubmitJob(def)
}

// GetJob returns a Job by ID.
func (f *Facade) GetJob(id types.JobID) (*types.Job, error) { return f.jobs.Get(id) }

// JobFilter narrows ListJobs results; a zero value matches every Job.
type JobFilter struct {
	Namespace string
	Status    types.JobStatus
}

// Page bounds a paginated listing.
type Page struct {
	Offset int
	Limit  int
}

// ListJobs returns Jobs matching filter, paginated by page. An empty page
// (zero Limit) returns every match.
func (f *Facade) ListJobs(filter JobFilter, page Page) ([]*types.Job, error) {
	all, err := f.jobs.List()
	if err != nil {
		return nil, err
	}
	matched := make([]*types.Job, 0, len(all))
	for _, j := range all {
		if filter.Namespace != "" && j.Namespace != filter.Namespace {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	return paginate(matched, page), nil
}

func paginate(jobs []*types.Job, page Page) []*types.Job {
	if page.Limit <= 0 {
		if page.Offset >= len(jobs) {
			return nil
		}
		return jobs[page.Offset:]
	}
	start := page.Offset
	if start > len(jobs) {
		start = len(jobs)
	}
	end := start + page.Limit
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[start:end]
}

// CancelJob cancels a Job: if still queued it is simply dequeued, if
// running the Lifecycle propagates cancellation to the Execution.
func (f *Facade) CancelJob(id types.JobID, reason string) (*types.Job, error) {
	job, err := f.jobs.Cancel(id, reason)
	if err != nil {
		return nil, err
	}
	execs, err := f.store.ListExecutionsByJob(id)
	if err != nil {
		return nil, err
	}
	for _, e := range execs {
		if err := f.CancelExecution(e.ID); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// RetryJob requeues a failed Job for another attempt (an
// operator-initiated retry).
func (f *Facade) RetryJob(id types.JobID, reason string) error {
	job, err := f.jobs.Get(id)
	if err != nil {
		return err
	}
	if job.Status != types.JobFailed {
		return orcherr.New(orcherr.KindInvalidArgument, "only a failed job may be retried")
	}
	if err := f.jobs.Requeue(id, reason); err != nil {
		return err
	}
	f.sched.Wake()
	return nil
}

// GetExecution returns an Execution by ID.
func (f *Facade) GetExecution(id types.ExecutionID) (*types.Execution, error) {
	exec, err := f.store.GetExecution(id)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "execution not found", err)
	}
	return exec, nil
}

// ListExecutionsByJob returns every Execution (attempt) of a Job.
func (f *Facade) ListExecutionsByJob(jobID types.JobID) ([]*types.Execution, error) {
	return f.store.ListExecutionsByJob(jobID)
}

// SubscribeEvents returns a live event subscription. Callers must
// Unsubscribe when done.
func (f *Facade) SubscribeEvents() events.Subscriber { return f.broker.Subscribe() }

// UnsubscribeEvents releases a subscription returned by SubscribeEvents.
func (f *Facade) UnsubscribeEvents(sub events.Subscriber) { f.broker.Unsubscribe(sub) }

// StreamLogs replays an Execution's retained log lines after afterSeq and
// reports whether the caller Lagged past the retention window.
func (f *Facade) StreamLogs(execID types.ExecutionID, afterSeq uint64) ([]lifecycle.LogLine, bool) {
	return f.coord.Logs().Since(execID, afterSeq)
}

// CancelExecution cancels a non-terminal Execution by committing its
// CANCELLED transition directly. No cancel_job frame is sent to the worker
// and no grace period is applied. It is idempotent against an Execution
// already terminal.
func (f *Facade) CancelExecution(execID types.ExecutionID) error {
	exec, err := f.store.GetExecution(execID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "execution not found", err)
	}
	if exec.State.Terminal() {
		return nil
	}
	return f.coord.FinishExecution(execID, types.ExecutionCancelled, nil, orcherr.KindCancelled, "cancelled by caller", nil)
}

// ReplayExecutions returns every Execution for jobID in attempt order, for
// reconstructing a Job's full attempt history.
func (f *Facade) ReplayExecutions(jobID types.JobID) ([]*types.Execution, error) {
	execs, err := f.store.ListExecutionsByJob(jobID)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(execs); i++ {
		for j := i; j > 0 && execs[j-1].Attempt > execs[j].Attempt; j-- {
			execs[j-1], execs[j] = execs[j], execs[j-1]
		}
	}
	return execs, nil
}

// CreatePool, UpdatePool, DeletePool, DrainPool, ResumePool,
// SetPoolMaintenance, and ListPoolWorkers delegate to the Pool Manager.
func (f *Facade) CreatePool(name, namespace string, provisioner types.ProvisionerKind, capacity types.ResourceUnits, quotaID types.QuotaID) (*types.Pool, error) {
	return f.pools.Create(name, namespace, provisioner, capacity, quotaID)
}
func (f *Facade) UpdatePool(p *types.Pool) error       { return f.pools.Update(p) }
func (f *Facade) DeletePool(id types.PoolID) error     { return f.pools.Delete(id) }
func (f *Facade) DrainPool(id types.PoolID) (*types.Pool, error)   { return f.pools.Drain(id) }
func (f *Facade) ResumePool(id types.PoolID) (*types.Pool, error)  { return f.pools.Resume(id) }
func (f *Facade) SetPoolMaintenance(id types.PoolID, reason string) (*types.Pool, error) {
	return f.pools.Maintenance(id, reason)
}
func (f *Facade) ListPoolWorkers(id types.PoolID) ([]*types.Worker, error) {
	return f.store.ListWorkersByPool(id)
}

// CreateQuota, UpdateQuota, DeleteQuota, GetQuota perform QuotaPolicy CRUD
// directly against the Repository; enforcement itself lives in
// pool.QuotaEvaluator and is consulted by the Scheduler, not the Facade.
func (f *Facade) CreateQuota(q *types.QuotaPolicy) error { return f.store.CreateQuota(q) }
func (f *Facade) UpdateQuota(q *types.QuotaPolicy) error { return f.store.UpdateQuota(q) }
func (f *Facade) DeleteQuota(id types.QuotaID) error     { return f.store.DeleteQuota(id) }
func (f *Facade) GetQuota(id types.QuotaID) (*types.QuotaPolicy, error) {
	return f.store.GetQuota(id)
}

// GetArtifact returns an artifact's raw bytes by ID.
func (f *Facade) GetArtifact(id types.ArtifactID) ([]byte, bool, error) { return f.cache.Get(id) }

// HasArtifacts reports which of ids are already present in the cache.
func (f *Facade) HasArtifacts(ids []types.ArtifactID) map[types.ArtifactID]bool {
	return f.cache.Has(ids)
}
