// Package scheduler implements the Scheduler: a single-writer loop that
// pops the highest-ranked QUEUED job, matches it against an eligible Pool
// and idle Worker, and hands it to the Worker Transport for dispatch. The
// ticker/stopCh run loop generalizes a node/service reconciliation pass
// into pool/worker matching against a job's resource request and
// capabilities.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/metrics"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/transport"
	"github.com/orchestrator/controlplane/pkg/types"
)

// tickInterval is how often the scheduler wakes to try dispatching the
// queue even with no explicit wake signal.
const tickInterval = 1 * time.Second

// fairnessWindow is the sliding window over which per-namespace dispatch
// counts are tracked for the fairness pass.
const fairnessWindow = 60 * time.Second

// Scheduler matches QUEUED jobs to idle workers and dispatches them.
type Scheduler struct {
	jobs    *jobstore.Store
	pools   *pool.Manager
	quotas  *pool.QuotaEvaluator
	transp  *transport.Server
	coord   *lifecycle.Coordinator
	store   storage.Store
	broker  *events.Broker

	dispatchTimeout time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	dispatchLog []dispatchRecord
}

type dispatchRecord struct {
	namespace string
	at        time.Time
}

// New creates a Scheduler. wakeCh events (heartbeats, new submissions,
// capacity released) cause an immediate extra scheduling pass rather than
// waiting for the next tick. dispatchTimeout bounds how long an Execution
// may sit DISPATCHED-but-not-yet-RUNNING before the scheduler gives up on
// the worker ever confirming it and fails the attempt.
func New(jobs *jobstore.Store, pools *pool.Manager, quotas *pool.QuotaEvaluator, transp *transport.Server, coord *lifecycle.Coordinator, store storage.Store, broker *events.Broker, dispatchTimeout time.Duration) *Scheduler {
	return &Scheduler{
		jobs:            jobs,
		pools:           pools,
		quotas:          quotas,
		transp:          transp,
		coord:           coord,
		store:           store,
		broker:          broker,
		dispatchTimeout: dispatchTimeout,
		wakeCh:          make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// Start launches the scheduling loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Wake requests an extra scheduling pass outside the regular tick, e.g.
// after a job submission or a worker heartbeat frees capacity.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scheduleOnce()
			s.checkDispatchTimeouts()
		case <-s.wakeCh:
			s.scheduleOnce()
		case <-s.stopCh:
			return
		}
	}
}

// checkDispatchTimeouts fails any Execution still PENDING longer than
// dispatchTimeout after DispatchExecution set DispatchedAt — a worker that
// never sent back a StatusUpdate(running), whether dead on arrival or lost
// to a dropped connection. FinishExecution's own bookkeeping releases the
// Execution's reserved capacity/quota and retries or fails the Job.
func (s *Scheduler) checkDispatchTimeouts() {
	if s.dispatchTimeout <= 0 {
		return
	}
	execs, err := s.store.ListExecutions()
	if err != nil {
		log.Errorf("scheduler: failed to list executions for dispatch-timeout check", err)
		return
	}

	cutoff := time.Now().Add(-s.dispatchTimeout)
	for _, exec := range execs {
		if exec.State != types.ExecutionPending || exec.DispatchedAt.IsZero() {
			continue
		}
		if exec.DispatchedAt.After(cutoff) {
			continue
		}
		if err := s.coord.FinishExecution(exec.ID, types.ExecutionFailed, nil, orcherr.KindTimeout, "dispatch timed out waiting for worker confirmation", nil); err != nil {
			log.Errorf("scheduler: failed to fail timed-out execution", err)
		}
	}
}

// scheduleOnce drains as many dispatchable jobs from the queue as
// currently match an eligible pool/worker, requeuing any job that finds no
// match so the queue order is preserved for the next pass.
func (s *Scheduler) scheduleOnce() {
	for {
		job, ok, err := s.jobs.Claim()
		if err != nil {
			log.Errorf("scheduler: failed to claim next job", err)
			return
		}
		if !ok {
			return
		}

		dispatched, err := s.dispatch(job)
		if err != nil {
			log.Errorf("scheduler: failed to dispatch job", err)
		}
		if !dispatched {
			// No eligible worker right now: put it back and stop this pass,
			// since the queue is priority-ordered and a lower-priority job
			// behind it is no more likely to match.
			// Push back with its original rank (not Requeue, which counts
			// an attempt and moves it behind its priority peers).
			if requeueErr := s.jobs.MarkStatus(job.ID, types.JobQueued); requeueErr != nil {
				log.Errorf("scheduler: failed to requeue unmatched job", requeueErr)
			}
			s.jobs.Queue().Push(job.ID, job.Priority, job.CreatedAt)
			return
		}
	}
}

// dispatch attempts to find a pool/worker for job and, on success, commits
// the Execution and sends the job_request frame. Returns false (with no
// error) when no eligible match currently exists.
func (s *Scheduler) dispatch(job *types.Job) (bool, error) {
	if !s.fairnessAllows(job.Namespace) {
		return false, nil
	}

	if err := s.quotas.Admit(job.Namespace, job.Resources); err != nil {
		return false, nil
	}

	pools, err := s.pools.List()
	if err != nil {
		s.quotas.Release(job.Namespace, job.Resources)
		return false, fmt.Errorf("failed to list pools: %w", err)
	}

	bestPool, bestWorker, found := s.selectPoolAndWorker(pools, job)
	if !found {
		s.quotas.Release(job.Namespace, job.Resources)
		return false, nil
	}

	if err := s.pools.ReserveCapacity(bestPool.ID, job.Resources); err != nil {
		s.quotas.Release(job.Namespace, job.Resources)
		return false, nil
	}

	exec := &types.Execution{
		ID:        types.ExecutionID(uuid.NewString()),
		JobID:     job.ID,
		Attempt:   job.Attempts,
		State:     types.ExecutionPending,
		PoolID:    bestPool.ID,
		WorkerID:  bestWorker.ID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateExecution(exec); err != nil {
		s.pools.ReleaseCapacity(bestPool.ID, job.Resources)
		s.quotas.Release(job.Namespace, job.Resources)
		return false, fmt.Errorf("failed to persist execution: %w", err)
	}

	if err := s.coord.DispatchExecution(exec.ID, bestWorker.ID, bestPool.ID); err != nil {
		s.pools.ReleaseCapacity(bestPool.ID, job.Resources)
		s.quotas.Release(job.Namespace, job.Resources)
		return false, fmt.Errorf("failed to commit execution dispatch: %w", err)
	}

	if err := s.jobs.MarkStatus(job.ID, types.JobRunning); err != nil {
		log.Errorf("scheduler: failed to mark job running", err)
	}

	bestWorker.Status = types.WorkerBusy
	bestWorker.RunningJobs++
	if err := s.store.UpdateWorker(bestWorker); err != nil {
		log.Errorf("scheduler: failed to mark worker busy", err)
	}

	if err := s.transp.DispatchJob(exec.ID, bestWorker.ID, job); err != nil {
		return false, fmt.Errorf("failed to dispatch job to worker transport: %w", err)
	}

	s.recordDispatch(job.Namespace)
	metrics.JobsDispatchedTotal.Inc()
	return true, nil
}

// selectPoolAndWorker enumerates ACTIVE pools whose quota would admit the
// job and picks the pool scoring highest on
// free_cpu_ratio*0.6 + free_memory_ratio*0.4, then within that pool the
// IDLE worker whose capabilities are a superset of the job's and whose
// free resources cover the request, breaking ties by earliest heartbeat.
func (s *Scheduler) selectPoolAndWorker(pools []*types.Pool, job *types.Job) (*types.Pool, *types.Worker, bool) {
	var bestPool *types.Pool
	var bestWorker *types.Worker
	bestScore := -1.0

	for _, p := range pools {
		if p.Status != types.PoolActive {
			continue
		}
		workers, err := s.store.ListWorkersByPool(p.ID)
		if err != nil {
			continue
		}
		candidate := selectWorker(workers, job)
		if candidate == nil {
			continue
		}

		cpuRatio, memRatio := pool.FreeRatios(p)
		score := cpuRatio*0.6 + memRatio*0.4
		if score > bestScore {
			bestScore = score
			bestPool = p
			bestWorker = candidate
		}
	}

	if bestPool == nil {
		return nil, nil, false
	}
	return bestPool, bestWorker, true
}

// selectWorker picks the IDLE (online, not busy) worker in workers whose
// Capabilities are a superset of job's and whose declared Resources cover
// the request, preferring the earliest LastHeartbeat (longest-idle first).
func selectWorker(workers []*types.Worker, job *types.Job) *types.Worker {
	var best *types.Worker
	for _, w := range workers {
		if w.Status != types.WorkerOnline {
			continue
		}
		if w.Resources.CPUCores < job.Resources.CPUCores || w.Resources.MemoryBytes < job.Resources.MemoryBytes {
			continue
		}
		if !hasCapabilities(w.Capabilities, job.Capabilities) {
			continue
		}
		if best == nil || w.LastHeartbeat.Before(best.LastHeartbeat) {
			best = w
		}
	}
	return best
}

func hasCapabilities(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// fairnessAllows reports whether namespace may dispatch another job within
// the sliding fairnessWindow. Each namespace is capped so one high-volume
// tenant cannot starve a quieter one within the same window.
const maxDispatchesPerNamespacePerWindow = 100

func (s *Scheduler) fairnessAllows(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-fairnessWindow)
	count := 0
	kept := s.dispatchLog[:0]
	for _, r := range s.dispatchLog {
		if r.at.After(cutoff) {
			kept = append(kept, r)
			if r.namespace == namespace {
				count++
			}
		}
	}
	s.dispatchLog = kept
	return count < maxDispatchesPerNamespacePerWindow
}

func (s *Scheduler) recordDispatch(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLog = append(s.dispatchLog, dispatchRecord{namespace: namespace, at: time.Now()})
}
