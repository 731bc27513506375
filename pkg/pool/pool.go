// Package pool implements the Pool Manager: capacity bookkeeping over a
// Pool's registered Workers, drain/resume/maintenance state transitions, and
// the QuotaPolicy evaluator the Scheduler consults before dispatch. Writes
// go directly through storage.Store, not through Raft; Drain and Resume
// publish an event after the write, the other mutations do not.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Provisioner is the capability interface a Pool uses to acquire and
// release Workers from a backend. Only Local ships a concrete
// implementation; kubernetes/docker/vm/bare_metal are extension points
// left unimplemented.
type Provisioner interface {
	Reserve(poolID types.PoolID, resources types.ResourceUnits) error
	Release(poolID types.PoolID, resources types.ResourceUnits) error
	ListWorkers(poolID types.PoolID) ([]*types.Worker, error)
	Terminate(workerID types.WorkerID) error
}

// LocalProvisioner is a no-op Provisioner: workers register themselves
// against the pool directly, so there is nothing to reserve/release/
// terminate at the provisioner level.
type LocalProvisioner struct {
	store storage.Store
}

// NewLocalProvisioner creates the only concrete Provisioner this build ships.
func NewLocalProvisioner(store storage.Store) *LocalProvisioner {
	return &LocalProvisioner{store: store}
}

func (p *LocalProvisioner) Reserve(types.PoolID, types.ResourceUnits) error { return nil }
func (p *LocalProvisioner) Release(types.PoolID, types.ResourceUnits) error { return nil }
func (p *LocalProvisioner) Terminate(types.WorkerID) error                 { return nil }

func (p *LocalProvisioner) ListWorkers(poolID types.PoolID) ([]*types.Worker, error) {
	return p.store.ListWorkersByPool(poolID)
}

// Manager owns Pool CRUD, capacity reservation, and quota enforcement.
type Manager struct {
	mu          sync.Mutex
	store       storage.Store
	broker      *events.Broker
	provisioner Provisioner
}

// New creates a pool Manager.
func New(store storage.Store, broker *events.Broker, provisioner Provisioner) *Manager {
	return &Manager{store: store, broker: broker, provisioner: provisioner}
}

// Create persists a new Pool in the ACTIVE state.
func (m *Manager) Create(name, namespace string, provisioner types.ProvisionerKind, capacity types.ResourceUnits, quotaID types.QuotaID) (*types.Pool, error) {
	p := &types.Pool{
		ID:          types.PoolID(uuid.NewString()),
		Name:        name,
		Namespace:   namespace,
		Status:      types.PoolActive,
		Provisioner: provisioner,
		QuotaID:     quotaID,
		Capacity:    capacity,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreatePool(p); err != nil {
		return nil, fmt.Errorf("failed to persist pool: %w", err)
	}
	return p, nil
}

// Get returns a Pool by ID.
func (m *Manager) Get(id types.PoolID) (*types.Pool, error) {
	p, err := m.store.GetPool(id)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "pool not found", err)
	}
	return p, nil
}

// List returns every Pool.
func (m *Manager) List() ([]*types.Pool, error) {
	return m.store.ListPools()
}

// Update persists changes to an existing Pool.
func (m *Manager) Update(p *types.Pool) error {
	return m.store.UpdatePool(p)
}

// Delete removes a Pool.
func (m *Manager) Delete(id types.PoolID) error {
	return m.store.DeletePool(id)
}

// Drain marks a Pool DRAINING so it accepts no new Executions. It only
// flips status and publishes pool.draining; running Executions are left to
// finish and nothing is cancelled.
func (m *Manager) Drain(id types.PoolID) (*types.Pool, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	p.Status = types.PoolDraining
	if err := m.store.UpdatePool(p); err != nil {
		return nil, fmt.Errorf("failed to persist draining pool: %w", err)
	}
	if m.broker != nil {
		m.broker.Publish(&types.Event{Type: types.EventPoolDraining, Subject: string(id)})
	}
	return p, nil
}

// Resume transitions a Pool from DRAINING back to ACTIVE.
func (m *Manager) Resume(id types.PoolID) (*types.Pool, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	p.Status = types.PoolActive
	if err := m.store.UpdatePool(p); err != nil {
		return nil, fmt.Errorf("failed to persist resumed pool: %w", err)
	}
	if m.broker != nil {
		m.broker.Publish(&types.Event{Type: types.EventPoolResumed, Subject: string(id)})
	}
	return p, nil
}

// Maintenance flags a Pool as under maintenance. The scheduler matches only
// ACTIVE pools, so a maintenance pool gets no new Executions. reason is
// not stored, and no event is published.
func (m *Manager) Maintenance(id types.PoolID, reason string) (*types.Pool, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	p.Status = types.PoolMaintenance
	if err := m.store.UpdatePool(p); err != nil {
		return nil, fmt.Errorf("failed to persist maintenance pool: %w", err)
	}
	return p, nil
}

// ReserveCapacity deducts resources from a Pool's available budget, failing
// with KindCapacityUnavailable if the pool cannot afford it.
func (m *Manager) ReserveCapacity(id types.PoolID, resources types.ResourceUnits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.GetPool(id)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "pool not found", err)
	}

	free := types.ResourceUnits{
		CPUCores:    p.Capacity.CPUCores - p.Reserved.CPUCores,
		MemoryBytes: p.Capacity.MemoryBytes - p.Reserved.MemoryBytes,
		DiskBytes:   p.Capacity.DiskBytes - p.Reserved.DiskBytes,
	}
	if free.CPUCores < resources.CPUCores || free.MemoryBytes < resources.MemoryBytes || free.DiskBytes < resources.DiskBytes {
		return orcherr.New(orcherr.KindCapacityUnavailable, fmt.Sprintf("pool %s has insufficient free capacity", id))
	}

	p.Reserved.CPUCores += resources.CPUCores
	p.Reserved.MemoryBytes += resources.MemoryBytes
	p.Reserved.DiskBytes += resources.DiskBytes
	return m.store.UpdatePool(p)
}

// ReleaseCapacity returns resources to a Pool's available budget.
func (m *Manager) ReleaseCapacity(id types.PoolID, resources types.ResourceUnits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.GetPool(id)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "pool not found", err)
	}

	p.Reserved.CPUCores -= resources.CPUCores
	p.Reserved.MemoryBytes -= resources.MemoryBytes
	p.Reserved.DiskBytes -= resources.DiskBytes
	if p.Reserved.CPUCores < 0 {
		p.Reserved.CPUCores = 0
	}
	if p.Reserved.MemoryBytes < 0 {
		p.Reserved.MemoryBytes = 0
	}
	if p.Reserved.DiskBytes < 0 {
		p.Reserved.DiskBytes = 0
	}
	return m.store.UpdatePool(p)
}

// FreeRatios returns the pool's free-CPU and free-memory ratios, used by the
// Scheduler's (free_cpu_ratio*0.6 + free_memory_ratio*0.4) score.
func FreeRatios(p *types.Pool) (cpu, memory float64) {
	if p.Capacity.CPUCores > 0 {
		cpu = (p.Capacity.CPUCores - p.Reserved.CPUCores) / p.Capacity.CPUCores
	}
	if p.Capacity.MemoryBytes > 0 {
		memory = float64(p.Capacity.MemoryBytes-p.Reserved.MemoryBytes) / float64(p.Capacity.MemoryBytes)
	}
	return cpu, memory
}
