// Package types defines the core data model of the orchestrator control
// plane: jobs, executions, worker pools, workers, artifacts, quotas, and
// the events the rest of the system publishes about them.
package types

import "time"

// JobID identifies a Job definition.
type JobID string

// ExecutionID identifies a single run (attempt) of a Job.
type ExecutionID string

// PoolID identifies a Pool of Workers.
type PoolID string

// WorkerID identifies a registered Worker.
type WorkerID string

// ArtifactID identifies a content-addressed Artifact.
type ArtifactID string

// QuotaID identifies a QuotaPolicy.
type QuotaID string

// ResourceUnits describes a quantity of compute resources.
type ResourceUnits struct {
	CPUCores    float64 `json:"cpu_cores"`
	MemoryBytes int64   `json:"memory_bytes"`
	DiskBytes   int64   `json:"disk_bytes"`
}

// JobPriority is a user-assigned scheduling priority, higher runs first.
type JobPriority int

const (
	PriorityLow      JobPriority = 0
	PriorityNormal   JobPriority = 50
	PriorityHigh     JobPriority = 100
	PriorityCritical JobPriority = 200
)

// RetryPolicy controls whether and how a failed Execution is resubmitted.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Multiplier  float64       `json:"multiplier"`
}

// JobContent is the executable payload of a Job. Env is encrypted at rest
// by the cluster's SecretsManager as EncryptedEnv; it is only decrypted in
// memory (into Env) when the scheduler claims the job to hand it to the
// worker transport for dispatch. A Job submitted without an encryption key
// configured carries its Env in the clear and EncryptedEnv stays nil.
type JobContent struct {
	Command      []string            `json:"command"`
	Env          map[string]string   `json:"env,omitempty"`
	EncryptedEnv map[string][]byte   `json:"encrypted_env,omitempty"`
	WorkDir      string              `json:"work_dir,omitempty"`
	// Artifacts lists inputs the worker must have staged locally before
	// running Command. The worker transport resolves each against its
	// local cache via a CacheQuery before the job starts; cache misses are
	// streamed down as ArtifactChunk frames.
	Artifacts []ArtifactID `json:"artifacts,omitempty"`
}

// JobStatus is the coarse-grained lifecycle status of a Job, distinct from
// the finer-grained ExecutionState of its individual attempts.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status represents a finished Job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is a user-submitted unit of work: what to run, how much it needs,
// and how it should be retried on failure.
type Job struct {
	ID          JobID             `json:"id"`
	Namespace   string            `json:"namespace"`
	Name        string            `json:"name"`
	Content      JobContent        `json:"content"`
	Resources    ResourceUnits     `json:"resources"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Priority    JobPriority       `json:"priority"`
	Status      JobStatus         `json:"status"`
	Retry       RetryPolicy       `json:"retry"`
	Attempts    int               `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	SubmittedBy string            `json:"submitted_by,omitempty"`
}

// ExecutionState is the lifecycle state of a single Execution.
type ExecutionState string

const (
	ExecutionPending   ExecutionState = "pending"
	ExecutionRunning   ExecutionState = "running"
	ExecutionSucceeded ExecutionState = "succeeded"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCancelled ExecutionState = "cancelled"
)

// Terminal reports whether the state represents a finished Execution.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is one attempt at running a Job on a specific Worker.
type Execution struct {
	ID              ExecutionID    `json:"id"`
	JobID           JobID          `json:"job_id"`
	Attempt         int            `json:"attempt"`
	State           ExecutionState `json:"state"`
	PoolID          PoolID         `json:"pool_id,omitempty"`
	WorkerID        WorkerID       `json:"worker_id,omitempty"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	DispatchedAt    time.Time      `json:"dispatched_at,omitempty"`
	StartedAt       time.Time      `json:"started_at,omitempty"`
	FinishedAt      time.Time      `json:"finished_at,omitempty"`
	ResultArtifacts []ArtifactID   `json:"result_artifacts,omitempty"`
}

// PoolStatus is the operational status of a Pool.
type PoolStatus string

const (
	PoolActive      PoolStatus = "active"
	PoolDraining    PoolStatus = "draining"
	PoolMaintenance PoolStatus = "maintenance"
)

// ProvisionerKind names the backend responsible for supplying Workers to a
// Pool. Only "local" ships a concrete implementation; the others are named
// extension points.
type ProvisionerKind string

const (
	ProvisionerLocal      ProvisionerKind = "local"
	ProvisionerKubernetes ProvisionerKind = "kubernetes"
	ProvisionerDocker     ProvisionerKind = "docker"
	ProvisionerVM         ProvisionerKind = "vm"
	ProvisionerBareMetal  ProvisionerKind = "bare_metal"
)

// Pool groups Workers that share a capacity budget and a QuotaPolicy.
type Pool struct {
	ID          PoolID          `json:"id"`
	Name        string          `json:"name"`
	Namespace   string          `json:"namespace"`
	Status      PoolStatus      `json:"status"`
	Provisioner ProvisionerKind `json:"provisioner"`
	QuotaID     QuotaID         `json:"quota_id,omitempty"`
	Capacity    ResourceUnits   `json:"capacity"`
	Reserved    ResourceUnits   `json:"reserved"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WorkerStatus is the liveness state of a registered Worker.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is a single execution agent registered against a Pool.
type Worker struct {
	ID            WorkerID          `json:"id"`
	PoolID        PoolID            `json:"pool_id"`
	Status        WorkerStatus      `json:"status"`
	Capabilities  map[string]string `json:"capabilities,omitempty"`
	Resources     ResourceUnits     `json:"resources"`
	SessionToken  string            `json:"-"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
	RunningJobs   int               `json:"running_jobs"`
}

// ArtifactKind distinguishes inputs staged for a Job from outputs it produced.
type ArtifactKind string

const (
	ArtifactInput  ArtifactKind = "input"
	ArtifactOutput ArtifactKind = "output"
)

// Artifact is a content-addressed blob referenced by SHA-256 digest.
type Artifact struct {
	ID         ArtifactID   `json:"id"`
	Kind       ArtifactKind `json:"kind"`
	Digest     string       `json:"digest"`
	SizeBytes  int64        `json:"size_bytes"`
	CreatedAt  time.Time    `json:"created_at"`
	Referenced int          `json:"referenced"`
}

// QuotaEnforcement controls what a QuotaPolicy does when a namespace
// exceeds its budget.
type QuotaEnforcement string

const (
	QuotaEnforce QuotaEnforcement = "enforce"
	QuotaWarn    QuotaEnforcement = "warn"
	QuotaMonitor QuotaEnforcement = "monitor"
)

// QuotaPolicy bounds how much of a Pool's capacity a namespace may reserve.
type QuotaPolicy struct {
	ID          QuotaID          `json:"id"`
	Namespace   string           `json:"namespace"`
	Max         ResourceUnits    `json:"max"`
	Enforcement QuotaEnforcement `json:"enforcement"`
}

// EventType names a kind of system event.
type EventType string

const (
	EventJobSubmitted        EventType = "job.submitted"
	EventJobCancelled        EventType = "job.cancelled"
	EventExecutionDispatched EventType = "execution.dispatched"
	EventExecutionStarted    EventType = "execution.started"
	EventExecutionSucceeded  EventType = "execution.succeeded"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionCancelled  EventType = "execution.cancelled"
	EventWorkerRegistered    EventType = "worker.registered"
	EventWorkerOffline       EventType = "worker.offline"
	EventPoolDraining        EventType = "pool.draining"
	EventPoolResumed         EventType = "pool.resumed"
	EventQuotaExceeded       EventType = "quota.exceeded"
)

// Event is a notification published by the control plane about a change to
// a Job, Execution, Worker, or Pool.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"` // JobID/ExecutionID/WorkerID/PoolID this event concerns
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
