// Package storage persists the control plane's entities. Store is the
// interface the rest of the system depends on; BoltStore is the only
// concrete implementation, backed by go.etcd.io/bbolt. It is written to both
// by the Raft FSM and directly by other packages (see doc.go).
package storage

import (
	"github.com/orchestrator/controlplane/pkg/types"
)

// Store defines the interface for orchestrator state storage.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id types.JobID) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	DeleteJob(id types.JobID) error

	// Executions
	CreateExecution(exec *types.Execution) error
	GetExecution(id types.ExecutionID) (*types.Execution, error)
	ListExecutions() ([]*types.Execution, error)
	ListExecutionsByJob(jobID types.JobID) ([]*types.Execution, error)
	UpdateExecution(exec *types.Execution) error
	DeleteExecution(id types.ExecutionID) error

	// Pools
	CreatePool(pool *types.Pool) error
	GetPool(id types.PoolID) (*types.Pool, error)
	GetPoolByName(name string) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	UpdatePool(pool *types.Pool) error
	DeletePool(id types.PoolID) error

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id types.WorkerID) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListWorkersByPool(poolID types.PoolID) ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id types.WorkerID) error

	// Artifacts
	CreateArtifact(artifact *types.Artifact) error
	GetArtifact(id types.ArtifactID) (*types.Artifact, error)
	ListArtifacts() ([]*types.Artifact, error)
	UpdateArtifact(artifact *types.Artifact) error
	DeleteArtifact(id types.ArtifactID) error

	// Quota policies
	CreateQuota(quota *types.QuotaPolicy) error
	GetQuota(id types.QuotaID) (*types.QuotaPolicy, error)
	GetQuotaByNamespace(namespace string) (*types.QuotaPolicy, error)
	ListQuotas() ([]*types.QuotaPolicy, error)
	UpdateQuota(quota *types.QuotaPolicy) error
	DeleteQuota(id types.QuotaID) error

	// Certificate Authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
