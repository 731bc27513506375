// Package manager is the control plane's central coordinator: it wires
// Raft consensus, the FSM, the Repository, the Worker Registry, the
// Artifact Cache, the Pool Manager, the Job Store, the Scheduler, and the
// Worker Transport into one running daemon. The Raft bootstrap/join/
// AddVoter/RemoveServer/GetRaftStats shape is grounded directly on the
// teacher's pkg/manager/manager.go, generalized from node/service/
// container entities to job/execution/pool/worker/quota ones.
package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/orchestrator/controlplane/pkg/artifact"
	"github.com/orchestrator/controlplane/pkg/config"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/metrics"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/registry"
	"github.com/orchestrator/controlplane/pkg/scheduler"
	"github.com/orchestrator/controlplane/pkg/security"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/transport"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Manager owns every long-lived component of one control-plane node.
type Manager struct {
	nodeID     string
	bindAddr   string
	workerAddr string
	dataDir    string

	raft              *raft.Raft
	lastTransportAddr raft.ServerAddress
	fsm               *lifecycle.FSM
	store             storage.Store

	broker    *events.Broker
	registry  *registry.Registry
	artifacts *artifact.Cache
	pools     *pool.Manager
	quotas    *pool.QuotaEvaluator
	jobs      *jobstore.Store
	coord     *lifecycle.Coordinator
	sched     *scheduler.Scheduler

	ca      *security.CertAuthority
	secrets *security.SecretsManager
	transp  *transport.Server
}

// New creates a Manager and every component it owns, but does not start
// Raft; call Bootstrap or Join afterward.
func New(cfg config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := lifecycle.NewFSM(store)
	broker := events.NewBroker()
	broker.Start()

	wreg := registry.New(store, broker, cfg.HeartbeatInterval, cfg.MissedHeartbeatsBeforeDown)
	wreg.Start()

	artifacts, err := artifact.NewCache(store, filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}
	provisioner := pool.NewLocalProvisioner(store)
	pools := pool.New(store, broker, provisioner)
	quotas := pool.NewQuotaEvaluator(store, broker)
	jobs := jobstore.New(store, broker)

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.NodeID)); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}
	secrets, err := security.NewSecretsManager(security.DeriveKeyFromClusterID(cfg.NodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	jobs.SetSecrets(secrets)

	ca := security.NewCertAuthority(store)
	if cfg.WorkerTLS {
		if err := ca.LoadFromStore(); err != nil {
			if err := ca.Initialize(); err != nil {
				return nil, fmt.Errorf("failed to initialize cluster CA: %w", err)
			}
			if err := ca.SaveToStore(); err != nil {
				return nil, fmt.Errorf("failed to persist cluster CA: %w", err)
			}
		}
		wreg.SetCertAuthority(ca)
	}

	m := &Manager{
		nodeID:     cfg.NodeID,
		bindAddr:   cfg.BindAddr,
		workerAddr: cfg.WorkerAddr,
		dataDir:    cfg.DataDir,
		fsm:       fsm,
		store:     store,
		broker:    broker,
		registry:  wreg,
		artifacts: artifacts,
		pools:     pools,
		quotas:    quotas,
		jobs:      jobs,
		ca:        ca,
		secrets:   secrets,
	}

	logRetentionLines := 1000
	m.coord = lifecycle.New(m, store, broker, logRetentionLines, jobs, pools, quotas)

	transportCA := ca
	if !cfg.WorkerTLS {
		transportCA = nil
	}
	transp, err := transport.NewServer(cfg.WorkerAddr, transportCA, wreg, m.coord, artifacts, store, cfg.SendBufferMessages, cfg.ArtifactChunkBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker transport server: %w", err)
	}
	m.transp = transp

	m.sched = scheduler.New(jobs, pools, quotas, transp, m.coord, store, broker, cfg.DispatchTimeout)
	transp.SetWaker(m.sched)

	return m, nil
}

// raftTimeouts tunes Raft for LAN/edge deployment: faster heartbeat and
// election timeouts than the library's WAN-oriented defaults, matching the
// teacher's Bootstrap/Join tuning.
func raftTimeouts(c *raft.Config) {
	c.HeartbeatTimeout = 500 * time.Millisecond
	c.ElectionTimeout = 500 * time.Millisecond
	c.CommitTimeout = 50 * time.Millisecond
	c.LeaderLeaseTimeout = 250 * time.Millisecond
}

func (m *Manager) newRaft() (*raft.Raft, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(m.nodeID)
	raftTimeouts(raftCfg)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	tr, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, m.fsm, logStore, stableStore, snapshotStore, tr)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	m.lastTransportAddr = tr.LocalAddr()
	return r, nil
}

// Bootstrap initializes a brand-new single-node Raft cluster and starts the
// Scheduler.
func (m *Manager) Bootstrap() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	future := m.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.lastTransportAddr)}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.startWorkerTransport()
	m.sched.Start()
	return nil
}

// startWorkerTransport launches the Worker Transport listener in the
// background and reports it to the health checker once it is actually
// accepting connections (best-effort: Serve logs and keeps running on a
// transient accept error, so this just marks the subsystem up).
func (m *Manager) startWorkerTransport() {
	go func() {
		if err := m.transp.Serve(); err != nil {
			log.Errorf("manager: worker transport listener exited", err)
			metrics.UpdateComponent("transport", false, err.Error())
		}
	}()
	metrics.RegisterComponent("transport", true, "listening on "+m.workerAddr)
}

// Join starts Raft on this node so it can be added as a voter of an
// existing cluster. This build has no manager-to-manager control RPC for
// contacting the leader directly, so the operator instead calls AddVoter
// through the leader's own admin HTTP endpoint (see cmd/orchestratord);
// Join here only brings up this node's local Raft instance to be added to.
func (m *Manager) Join() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r
	m.startWorkerTransport()
	m.sched.Start()
	return nil
}

// AddVoter adds nodeID at address as a voting member of the Raft cluster.
// Only the current leader may call this successfully.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes nodeID from the Raft cluster.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers lists the Raft cluster's current member set.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's address, if known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats reports the Raft statistics pkg/metrics' Collector scrapes.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	if cfgFuture := m.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Apply commits cmd through Raft consensus, satisfying lifecycle.Applier.
func (m *Manager) Apply(cmd lifecycle.Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the Worker Transport listener, event broker, worker registry
// liveness sweep, and Scheduler.
func (m *Manager) Stop() {
	if err := m.transp.Close(); err != nil {
		log.Errorf("manager: failed to close worker transport listener", err)
	}
	metrics.DeregisterComponent("transport")
	m.sched.Stop()
	m.registry.Stop()
	m.broker.Stop()
}

// Component accessors the Public Core Facade (pkg/facade) and the metrics
// Collector build on top of.
func (m *Manager) Store() storage.Store               { return m.store }
func (m *Manager) Broker() *events.Broker              { return m.broker }
func (m *Manager) Registry() *registry.Registry        { return m.registry }
func (m *Manager) Artifacts() *artifact.Cache           { return m.artifacts }
func (m *Manager) Pools() *pool.Manager                { return m.pools }
func (m *Manager) Quotas() *pool.QuotaEvaluator         { return m.quotas }
func (m *Manager) Jobs() *jobstore.Store                { return m.jobs }
func (m *Manager) Conns() *transport.Registry           { return m.transp.Conns() }
func (m *Manager) Coordinator() *lifecycle.Coordinator  { return m.coord }
func (m *Manager) Scheduler() *scheduler.Scheduler      { return m.sched }
func (m *Manager) Transport() *transport.Server         { return m.transp }

// ListWorkers, ListPools, ListJobs, ListExecutions, ListArtifacts satisfy
// pkg/metrics.Source, the interface the metrics Collector reads from.
func (m *Manager) ListWorkers() ([]*types.Worker, error)       { return m.store.ListWorkers() }
func (m *Manager) ListPools() ([]*types.Pool, error)           { return m.store.ListPools() }
func (m *Manager) ListJobs() ([]*types.Job, error)             { return m.store.ListJobs() }
func (m *Manager) ListExecutions() ([]*types.Execution, error) { return m.store.ListExecutions() }
func (m *Manager) ListArtifacts() ([]*types.Artifact, error)   { return m.store.ListArtifacts() }
