package manager

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/orchestrator/controlplane/pkg/config"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NodeID = "node-1"
	cfg.BindAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()

	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func waitForLeader(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.IsLeader, 5*time.Second, 20*time.Millisecond, "node never became leader")
}

func TestBootstrapBecomesLeader(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Bootstrap())
	waitForLeader(t, m)

	stats := m.GetRaftStats()
	assert.Equal(t, "Leader", stats["state"])
}

func TestApplyCommitsThroughRaft(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Bootstrap())
	waitForLeader(t, m)

	data, err := json.Marshal(&types.Job{ID: "job-1", Status: types.JobQueued})
	require.NoError(t, err)
	require.NoError(t, m.Apply(lifecycle.Command{Op: lifecycle.OpCreateJob, Data: data}))

	job, err := m.Store().GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
}

func TestListAccessorsDelegateToStore(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Bootstrap())
	waitForLeader(t, m)

	require.NoError(t, m.Store().CreatePool(&types.Pool{ID: "pool-1", Name: "pool-1"}))

	pools, err := m.ListPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "pool-1", pools[0].Name)
}
