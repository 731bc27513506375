package pool

import (
	"testing"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *QuotaEvaluator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := New(store, broker, NewLocalProvisioner(store))
	qe := NewQuotaEvaluator(store, broker)
	return mgr, qe, store
}

func TestCreateAndGetPool(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	p, err := mgr.Create("pool-a", "default", types.ProvisionerLocal, types.ResourceUnits{CPUCores: 8}, "")
	require.NoError(t, err)
	assert.Equal(t, types.PoolActive, p.Status)

	fetched, err := mgr.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, fetched.Name)
}

func TestDrainAndResume(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	p, err := mgr.Create("pool-a", "default", types.ProvisionerLocal, types.ResourceUnits{}, "")
	require.NoError(t, err)

	drained, err := mgr.Drain(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolDraining, drained.Status)

	resumed, err := mgr.Resume(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolActive, resumed.Status)
}

func TestReserveCapacityFailsWhenExhausted(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	p, err := mgr.Create("pool-a", "default", types.ProvisionerLocal, types.ResourceUnits{CPUCores: 2}, "")
	require.NoError(t, err)

	require.NoError(t, mgr.ReserveCapacity(p.ID, types.ResourceUnits{CPUCores: 2}))

	err = mgr.ReserveCapacity(p.ID, types.ResourceUnits{CPUCores: 1})
	require.Error(t, err)
}

func TestReleaseCapacityRestoresBudget(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	p, err := mgr.Create("pool-a", "default", types.ProvisionerLocal, types.ResourceUnits{CPUCores: 4}, "")
	require.NoError(t, err)

	require.NoError(t, mgr.ReserveCapacity(p.ID, types.ResourceUnits{CPUCores: 4}))
	require.NoError(t, mgr.ReleaseCapacity(p.ID, types.ResourceUnits{CPUCores: 4}))
	require.NoError(t, mgr.ReserveCapacity(p.ID, types.ResourceUnits{CPUCores: 4}))
}

func TestFreeRatios(t *testing.T) {
	p := &types.Pool{
		Capacity: types.ResourceUnits{CPUCores: 10, MemoryBytes: 1000},
		Reserved: types.ResourceUnits{CPUCores: 4, MemoryBytes: 250},
	}
	cpu, mem := FreeRatios(p)
	assert.InDelta(t, 0.6, cpu, 0.001)
	assert.InDelta(t, 0.75, mem, 0.001)
}

func TestQuotaEnforceBlocksOverLimit(t *testing.T) {
	_, qe, store := newTestManager(t)

	require.NoError(t, store.CreateQuota(&types.QuotaPolicy{
		ID: "q1", Namespace: "team-a", Enforcement: types.QuotaEnforce,
		Max: types.ResourceUnits{CPUCores: 2},
	}))

	require.NoError(t, qe.Admit("team-a", types.ResourceUnits{CPUCores: 1}))
	err := qe.Admit("team-a", types.ResourceUnits{CPUCores: 2})
	require.Error(t, err)
}

func TestQuotaWarnAllowsOverLimit(t *testing.T) {
	_, qe, store := newTestManager(t)

	require.NoError(t, store.CreateQuota(&types.QuotaPolicy{
		ID: "q1", Namespace: "team-b", Enforcement: types.QuotaWarn,
		Max: types.ResourceUnits{CPUCores: 1},
	}))

	require.NoError(t, qe.Admit("team-b", types.ResourceUnits{CPUCores: 5}))
}

func TestQuotaReleaseDecrementsUsage(t *testing.T) {
	_, qe, store := newTestManager(t)

	require.NoError(t, store.CreateQuota(&types.QuotaPolicy{
		ID: "q1", Namespace: "team-c", Enforcement: types.QuotaEnforce,
		Max: types.ResourceUnits{CPUCores: 2},
	}))

	require.NoError(t, qe.Admit("team-c", types.ResourceUnits{CPUCores: 2}))
	qe.Release("team-c", types.ResourceUnits{CPUCores: 2})
	require.NoError(t, qe.Admit("team-c", types.ResourceUnits{CPUCores: 2}))
}
