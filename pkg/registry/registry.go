// Package registry tracks Workers independently of their active Executions:
// registration, session tokens, heartbeats, and the liveness sweep that
// marks silent workers offline. Session tokens are random 32-byte hex
// values, expiry-free, held in a mutex-guarded map, widened to also hold
// capability/resource declarations and last-heartbeat timestamps.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/security"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// RegistrationResult is returned to a worker on successful registration.
// IssuedCertDER is populated only when the Registry has a CertAuthority
// installed; it carries the DER bytes of a fresh client certificate the
// worker should present on any subsequent mutual-TLS reconnect.
type RegistrationResult struct {
	SessionToken      string
	HeartbeatInterval time.Duration
	IssuedCertDER     []byte
}

// session binds a worker ID to the token issued for its current
// registration. A re-registration replaces the session, invalidating the
// old token.
type session struct {
	workerID types.WorkerID
	token    string
}

// Registry is the worker registry: register/unregister/heartbeat plus the
// background liveness sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.WorkerID]*session
	store    storage.Store
	broker   *events.Broker

	heartbeatInterval          time.Duration
	missedHeartbeatsBeforeDown int

	ca *security.CertAuthority

	stopCh chan struct{}
}

// New creates a Registry. heartbeatInterval and missedBeforeDown should
// come from the process Config.
func New(store storage.Store, broker *events.Broker, heartbeatInterval time.Duration, missedBeforeDown int) *Registry {
	return &Registry{
		sessions:                   make(map[types.WorkerID]*session),
		store:                      store,
		broker:                     broker,
		heartbeatInterval:          heartbeatInterval,
		missedHeartbeatsBeforeDown: missedBeforeDown,
		stopCh:                     make(chan struct{}),
	}
}

// SetCertAuthority installs the cluster CA used to issue a client
// certificate on each Register call. A Registry with no CA installed
// registers workers without mutual TLS material, same as before this was
// wired in.
func (r *Registry) SetCertAuthority(ca *security.CertAuthority) { r.ca = ca }

// Start launches the liveness sweep goroutine, running every
// heartbeatInterval/2 so a missed heartbeat is caught well before the
// worker would be declared offline.
func (r *Registry) Start() {
	go r.sweepLoop()
}

// Stop halts the liveness sweep.
func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) sweepLoop() {
	interval := r.heartbeatInterval / 2
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sweep() {
	workers, err := r.store.ListWorkers()
	if err != nil {
		log.Errorf("registry: liveness sweep failed to list workers", err)
		return
	}

	threshold := time.Duration(r.missedHeartbeatsBeforeDown) * r.heartbeatInterval
	now := time.Now()

	for _, w := range workers {
		if w.Status == types.WorkerOffline {
			continue
		}
		if now.Sub(w.LastHeartbeat) <= threshold {
			continue
		}

		w.Status = types.WorkerOffline
		if err := r.store.UpdateWorker(w); err != nil {
			log.Errorf("registry: failed to mark worker offline", err)
			continue
		}

		r.mu.Lock()
		delete(r.sessions, w.ID)
		r.mu.Unlock()

		log.Info("registry: worker marked offline for missed heartbeats")
		if r.broker != nil {
			r.broker.Publish(&types.Event{
				Type:    types.EventWorkerOffline,
				Subject: string(w.ID),
				Message: fmt.Sprintf("no heartbeat in %s", threshold),
			})
		}
	}
}

// Register admits a worker, issuing a fresh session token that invalidates
// any prior session for the same worker ID.
func (r *Registry) Register(workerID types.WorkerID, poolID types.PoolID, capabilities map[string]string, resources types.ResourceUnits) (*RegistrationResult, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	worker := &types.Worker{
		ID:            workerID,
		PoolID:        poolID,
		Status:        types.WorkerOnline,
		Capabilities:  capabilities,
		Resources:     resources,
		SessionToken:  token,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if err := r.store.CreateWorker(worker); err != nil {
		return nil, fmt.Errorf("failed to persist worker: %w", err)
	}

	r.mu.Lock()
	r.sessions[workerID] = &session{workerID: workerID, token: token}
	r.mu.Unlock()

	if r.broker != nil {
		r.broker.Publish(&types.Event{Type: types.EventWorkerRegistered, Subject: string(workerID)})
	}

	result := &RegistrationResult{SessionToken: token, HeartbeatInterval: r.heartbeatInterval}
	if r.ca != nil && r.ca.IsInitialized() {
		cert, err := r.ca.IssueClientCertificate(string(workerID))
		if err != nil {
			log.Errorf("registry: failed to issue worker client certificate", err)
		} else if len(cert.Certificate) > 0 {
			result.IssuedCertDER = cert.Certificate[0]
		}
	}

	return result, nil
}

// Unregister removes a worker's session and marks it offline.
func (r *Registry) Unregister(workerID types.WorkerID) error {
	r.mu.Lock()
	delete(r.sessions, workerID)
	r.mu.Unlock()

	worker, err := r.store.GetWorker(workerID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "worker not found", err)
	}
	worker.Status = types.WorkerOffline
	return r.store.UpdateWorker(worker)
}

// Heartbeat validates the session token and updates last-heartbeat plus
// reported status and active-job count.
func (r *Registry) Heartbeat(workerID types.WorkerID, token string, status types.WorkerStatus, runningJobs int) error {
	r.mu.RLock()
	s, ok := r.sessions[workerID]
	r.mu.RUnlock()

	if !ok || s.token != token {
		return orcherr.New(orcherr.KindUnauthenticated, "invalid or stale session token")
	}

	worker, err := r.store.GetWorker(workerID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindNotFound, "worker not found", err)
	}

	worker.Status = status
	worker.RunningJobs = runningJobs
	worker.LastHeartbeat = time.Now()
	return r.store.UpdateWorker(worker)
}

// ValidateSession reports whether token is the live session token for
// workerID, used by the transport layer to authenticate non-heartbeat
// messages.
func (r *Registry) ValidateSession(workerID types.WorkerID, token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[workerID]
	return ok && s.token == token
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
