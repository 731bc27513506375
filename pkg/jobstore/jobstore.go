// Package jobstore is the authoritative Job repository plus the in-memory
// priority Queue the Scheduler pops from. The Store half persists through
// pkg/storage; the Queue half (queue.go) is a container/heap keyed by
// (priority desc, createdAt asc).
package jobstore

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/security"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Definition is the caller-supplied content of a new Job submission.
type Definition struct {
	Namespace    string
	Name         string
	Content      types.JobContent
	Resources    types.ResourceUnits
	Capabilities map[string]string
	Labels       map[string]string
	Priority     types.JobPriority
	Retry        types.RetryPolicy
	SubmittedBy  string
}

// Store combines the persisted Job repository with the in-memory dispatch
// queue.
type Store struct {
	store   storage.Store
	queue   *Queue
	broker  *events.Broker
	secrets *security.SecretsManager
}

// New creates a Store backed by store and publishing through broker.
func New(store storage.Store, broker *events.Broker) *Store {
	return &Store{store: store, queue: NewQueue(), broker: broker}
}

// SetSecrets installs the cluster SecretsManager used to encrypt Env at
// Submit and decrypt it at Claim. A Store with no SecretsManager installed
// stores Env in the clear, matching a cluster that never configured an
// encryption key.
func (s *Store) SetSecrets(secrets *security.SecretsManager) { s.secrets = secrets }

// Queue exposes the underlying priority queue, e.g. for the Scheduler.
func (s *Store) Queue() *Queue { return s.queue }

// Submit persists a new Job, queues it, and emits job.submitted. When a
// SecretsManager is installed, Content.Env is encrypted into EncryptedEnv
// and cleared before the Job ever reaches storage or the Raft log.
func (s *Store) Submit(def Definition) (*types.Job, error) {
	now := time.Now()
	content := def.Content
	if s.secrets != nil && len(content.Env) > 0 {
		encrypted, err := s.secrets.EncryptJobEnv(content.Env)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "failed to encrypt job env", err)
		}
		content.EncryptedEnv = encrypted
		content.Env = nil
	}

	job := &types.Job{
		ID:           types.JobID(uuid.NewString()),
		Namespace:    def.Namespace,
		Name:         def.Name,
		Content:      content,
		Resources:    def.Resources,
		Capabilities: def.Capabilities,
		Labels:       def.Labels,
		Priority:     def.Priority,
		Status:       types.JobQueued,
		Retry:        def.Retry,
		CreatedAt:    now,
		UpdatedAt:    now,
		SubmittedBy:  def.SubmittedBy,
	}

	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.queue.Push(job.ID, job.Priority, job.CreatedAt)

	if s.broker != nil {
		s.broker.Publish(&types.Event{Type: types.EventJobSubmitted, Subject: string(job.ID)})
	}

	return job, nil
}

// Get returns a Job by ID.
func (s *Store) Get(id types.JobID) (*types.Job, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, fmt.Sprintf("job %s not found", id), err)
	}
	return job, nil
}

// List returns every Job in the repository.
func (s *Store) List() ([]*types.Job, error) {
	return s.store.ListJobs()
}

// Claim removes the highest-ranked job from the queue and transitions it to
// PENDING (assignment pending), called by the Scheduler.
func (s *Store) Claim() (*types.Job, bool, error) {
	jobID, ok := s.queue.Claim()
	if !ok {
		return nil, false, nil
	}

	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load claimed job %s: %w", jobID, err)
	}

	job.Status = types.JobPending
	job.UpdatedAt = time.Now()
	if err := s.store.CreateJob(job); err != nil {
		return nil, false, fmt.Errorf("failed to persist claimed job: %w", err)
	}

	// Decrypt Env into a copy handed to the caller (the Scheduler, on its
	// way to the worker transport); the persisted record keeps EncryptedEnv
	// and never holds plaintext at rest.
	if s.secrets != nil && len(job.Content.EncryptedEnv) > 0 {
		decrypted, err := s.secrets.DecryptJobEnv(job.Content.EncryptedEnv)
		if err != nil {
			return nil, false, orcherr.Wrap(orcherr.KindInternal, "failed to decrypt job env", err)
		}
		claimed := *job
		claimed.Content.Env = decrypted
		return &claimed, true, nil
	}

	return job, true, nil
}

// Requeue reinserts a job with unchanged priority but a fresh createdAt,
// counts the attempt, and emits job.retried. Used by the Execution Lifecycle
// on a retryable failure and by the Facade's operator-initiated RetryJob.
func (s *Store) Requeue(jobID types.JobID, reason string) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "job not found", err)
	}

	job.Status = types.JobQueued
	job.Attempts++
	job.UpdatedAt = time.Now()
	if err := s.store.CreateJob(job); err != nil {
		return fmt.Errorf("failed to persist requeued job: %w", err)
	}

	s.queue.Requeue(jobID, job.Priority)

	if s.broker != nil {
		s.broker.Publish(&types.Event{Type: types.EventType("job.retried"), Subject: string(jobID), Message: reason})
	}
	return nil
}

// Cancel moves a job to CANCELLED. Cancelling a still-queued job simply
// removes it from the queue with no other side effects; the RUNNING case is
// the caller's (Lifecycle's) responsibility to route through the Execution.
// Idempotent: cancelling an already-terminal job is a no-op.
func (s *Store) Cancel(jobID types.JobID, reason string) (*types.Job, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "job not found", err)
	}

	if job.Status.Terminal() {
		return job, nil
	}

	s.queue.Remove(jobID)

	job.Status = types.JobCancelled
	job.UpdatedAt = time.Now()
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist cancelled job: %w", err)
	}

	if s.broker != nil {
		s.broker.Publish(&types.Event{Type: types.EventJobCancelled, Subject: string(jobID), Message: reason})
	}
	return job, nil
}

// MarkStatus persists a job's new status, used by the Lifecycle when an
// Execution's terminal transition propagates into Job status.
func (s *Store) MarkStatus(jobID types.JobID, status types.JobStatus) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "job not found", err)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return s.store.CreateJob(job)
}

// RetryDelay computes baseDelay × multiplier^attempt. The Lifecycle does not
// call it: a failed job with attempts left is requeued immediately, with no
// backoff delay.
func RetryDelay(policy types.RetryPolicy, attempt int) time.Duration {
	if policy.Multiplier <= 0 {
		return policy.BaseDelay
	}
	factor := math.Pow(policy.Multiplier, float64(attempt))
	return time.Duration(float64(policy.BaseDelay) * factor)
}
