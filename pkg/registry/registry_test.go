package registry

import (
	"testing"
	"time"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(store, broker, 50*time.Millisecond, 3), store
}

func TestRegisterIssuesSessionToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	result, err := r.Register("worker-1", "pool-a", map[string]string{"os": "linux"}, types.ResourceUnits{CPUCores: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
	assert.True(t, r.ValidateSession("worker-1", result.SessionToken))
}

func TestReregistrationInvalidatesPriorToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	second, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	assert.False(t, r.ValidateSession("worker-1", first.SessionToken))
	assert.True(t, r.ValidateSession("worker-1", second.SessionToken))
}

func TestHeartbeatRejectsStaleToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	err = r.Heartbeat("worker-1", "wrong-token", types.WorkerOnline, 0)
	require.Error(t, err)
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	r, store := newTestRegistry(t)

	result, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	err = r.Heartbeat("worker-1", result.SessionToken, types.WorkerBusy, 1)
	require.NoError(t, err)

	w, err := store.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerBusy, w.Status)
	assert.Equal(t, 1, w.RunningJobs)
}

func TestLivenessSweepMarksSilentWorkerOffline(t *testing.T) {
	r, store := newTestRegistry(t)
	r.Start()
	defer r.Stop()

	_, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, err := store.GetWorker("worker-1")
		return err == nil && w.Status == types.WorkerOffline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnregisterClearsSession(t *testing.T) {
	r, _ := newTestRegistry(t)

	result, err := r.Register("worker-1", "pool-a", nil, types.ResourceUnits{})
	require.NoError(t, err)

	require.NoError(t, r.Unregister("worker-1"))
	assert.False(t, r.ValidateSession("worker-1", result.SessionToken))
}
