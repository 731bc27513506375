package lifecycle

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Command is one state-change operation submitted through Raft.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Op names: one per entity mutation the FSM knows how to apply.
const (
	OpCreateJob       = "create_job"
	OpUpdateJobStatus = "update_job_status"
	OpDeleteJob       = "delete_job"

	OpCreateExecution = "create_execution"
	OpUpdateExecution = "update_execution"

	OpCreatePool = "create_pool"
	OpUpdatePool = "update_pool"
	OpDeletePool = "delete_pool"

	OpCreateWorker = "create_worker"
	OpUpdateWorker = "update_worker"
	OpDeleteWorker = "delete_worker"

	OpCreateQuota = "create_quota"
	OpUpdateQuota = "update_quota"
	OpDeleteQuota = "delete_quota"
)

// FSM is the Raft finite state machine applying committed Commands to the
// Repository.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates an FSM backed by store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Apply applies one committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateJob:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.CreateJob(&job)

	case OpUpdateJobStatus:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.CreateJob(&job)

	case OpDeleteJob:
		var id types.JobID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteJob(id)

	case OpCreateExecution:
		var exec types.Execution
		if err := json.Unmarshal(cmd.Data, &exec); err != nil {
			return err
		}
		return f.store.CreateExecution(&exec)

	case OpUpdateExecution:
		var exec types.Execution
		if err := json.Unmarshal(cmd.Data, &exec); err != nil {
			return err
		}
		return f.store.UpdateExecution(&exec)

	case OpCreatePool:
		var pool types.Pool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.CreatePool(&pool)

	case OpUpdatePool:
		var pool types.Pool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.UpdatePool(&pool)

	case OpDeletePool:
		var id types.PoolID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeletePool(id)

	case OpCreateWorker:
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.CreateWorker(&worker)

	case OpUpdateWorker:
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.UpdateWorker(&worker)

	case OpDeleteWorker:
		var id types.WorkerID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteWorker(id)

	case OpCreateQuota:
		var quota types.QuotaPolicy
		if err := json.Unmarshal(cmd.Data, &quota); err != nil {
			return err
		}
		return f.store.CreateQuota(&quota)

	case OpUpdateQuota:
		var quota types.QuotaPolicy
		if err := json.Unmarshal(cmd.Data, &quota); err != nil {
			return err
		}
		return f.store.UpdateQuota(&quota)

	case OpDeleteQuota:
		var id types.QuotaID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteQuota(id)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures a point-in-time copy of the cluster's entities.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	jobs, err := f.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	executions, err := f.store.ListExecutions()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	pools, err := f.store.ListPools()
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	quotas, err := f.store.ListQuotas()
	if err != nil {
		return nil, fmt.Errorf("failed to list quotas: %w", err)
	}

	return &Snapshot{
		Jobs:       jobs,
		Executions: executions,
		Pools:      pools,
		Workers:    workers,
		Quotas:     quotas,
	}, nil
}

// Restore rebuilds state from a previously captured Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, job := range snap.Jobs {
		if err := f.store.CreateJob(job); err != nil {
			return fmt.Errorf("failed to restore job: %w", err)
		}
	}
	for _, exec := range snap.Executions {
		if err := f.store.CreateExecution(exec); err != nil {
			return fmt.Errorf("failed to restore execution: %w", err)
		}
	}
	for _, pool := range snap.Pools {
		if err := f.store.CreatePool(pool); err != nil {
			return fmt.Errorf("failed to restore pool: %w", err)
		}
	}
	for _, worker := range snap.Workers {
		if err := f.store.CreateWorker(worker); err != nil {
			return fmt.Errorf("failed to restore worker: %w", err)
		}
	}
	for _, quota := range snap.Quotas {
		if err := f.store.CreateQuota(quota); err != nil {
			return fmt.Errorf("failed to restore quota: %w", err)
		}
	}
	return nil
}

// Snapshot is the point-in-time copy of cluster state a Raft snapshot
// carries, persisted via raft.FSMSnapshot.Persist.
type Snapshot struct {
	Jobs       []*types.Job
	Executions []*types.Execution
	Pools      []*types.Pool
	Workers    []*types.Worker
	Quotas     []*types.QuotaPolicy
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases any snapshot resources. Nothing to release here since
// the snapshot is held entirely in memory.
func (s *Snapshot) Release() {}
