package scheduler

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/orchestrator/controlplane/pkg/artifact"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/registry"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/transport"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directApplier commits a lifecycle.Command straight to an in-process FSM,
// skipping Raft consensus, for scheduler tests that only exercise matching
// and dispatch logic.
type directApplier struct{ fsm *lifecycle.FSM }

func (d *directApplier) Apply(cmd lifecycle.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	result := d.fsm.Apply(&raft.Log{Data: data})
	if err, ok := result.(error); ok && err != nil {
		return err
	}
	return nil
}

func newHarness(t *testing.T) (*Scheduler, *jobstore.Store, storage.Store, *transport.Server) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	jobs := jobstore.New(store, broker)
	pools := pool.New(store, broker, pool.NewLocalProvisioner(store))
	quotas := pool.NewQuotaEvaluator(store, broker)
	wreg := registry.New(store, broker, time.Second, 3)
	artifacts, err := artifact.NewCache(store, t.TempDir())
	require.NoError(t, err)
	fsm := lifecycle.NewFSM(store)
	coord := lifecycle.New(&directApplier{fsm: fsm}, store, broker, 10, jobs, pools, quotas)

	transp, err := transport.NewServer("127.0.0.1:0", nil, wreg, coord, artifacts, store, 8, 1<<20)
	require.NoError(t, err)

	sched := New(jobs, pools, quotas, transp, coord, store, broker, 0)
	return sched, jobs, store, transp
}

func TestSelectWorkerPicksCapableIdleWorker(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w1", Status: types.WorkerBusy, Resources: types.ResourceUnits{CPUCores: 4}},
		{ID: "w2", Status: types.WorkerOnline, Resources: types.ResourceUnits{CPUCores: 1}},
		{ID: "w3", Status: types.WorkerOnline, Resources: types.ResourceUnits{CPUCores: 4}, Capabilities: map[string]string{"gpu": "true"}},
	}
	job := &types.Job{Resources: types.ResourceUnits{CPUCores: 2}, Capabilities: map[string]string{"gpu": "true"}}

	got := selectWorker(workers, job)
	require.NotNil(t, got)
	assert.Equal(t, types.WorkerID("w3"), got.ID)
}

func TestSelectWorkerReturnsNilWhenNoneFit(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w1", Status: types.WorkerOnline, Resources: types.ResourceUnits{CPUCores: 1}},
	}
	job := &types.Job{Resources: types.ResourceUnits{CPUCores: 4}}

	assert.Nil(t, selectWorker(workers, job))
}

func TestDispatchSendsJobRequestToWorker(t *testing.T) {
	sched, jobs, store, transp := newHarness(t)

	require.NoError(t, store.CreatePool(&types.Pool{
		ID: "pool-1", Status: types.PoolActive,
		Capacity: types.ResourceUnits{CPUCores: 8, MemoryBytes: 8 << 30},
	}))
	require.NoError(t, store.CreateWorker(&types.Worker{
		ID: "worker-1", PoolID: "pool-1", Status: types.WorkerOnline,
		Resources: types.ResourceUnits{CPUCores: 4, MemoryBytes: 4 << 30},
	}))

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := transport.NewWorkerConn("worker-1", server, 8)
	conn.Start(func(*transport.Frame) {})
	transp.Conns().Add(conn)

	job, err := jobs.Submit(jobstore.Definition{
		Namespace: "default", Name: "job-1",
		Content:   types.JobContent{Command: []string{"echo", "hi"}},
		Resources: types.ResourceUnits{CPUCores: 1, MemoryBytes: 1 << 20},
	})
	require.NoError(t, err)

	claimed, ok, err := jobs.Claim()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, claimed.ID)

	done := make(chan *transport.Frame, 1)
	go func() {
		f, readErr := transport.ReadFrame(client)
		if readErr == nil {
			done <- f
		}
	}()

	dispatched, err := sched.dispatch(claimed)
	require.NoError(t, err)
	assert.True(t, dispatched)

	select {
	case f := <-done:
		assert.Equal(t, transport.KindJobRequest, f.Kind)
		assert.Equal(t, job.ID, f.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job_request frame")
	}
}

func TestDispatchFailsWithNoEligibleWorker(t *testing.T) {
	sched, jobs, _, _ := newHarness(t)

	job, err := jobs.Submit(jobstore.Definition{
		Namespace: "default", Name: "job-1",
		Content:   types.JobContent{Command: []string{"echo"}},
		Resources: types.ResourceUnits{CPUCores: 1},
	})
	require.NoError(t, err)

	claimed, ok, err := jobs.Claim()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, claimed.ID)

	dispatched, err := sched.dispatch(claimed)
	require.NoError(t, err)
	assert.False(t, dispatched)
}

func TestFairnessAllowsUnderCap(t *testing.T) {
	sched, _, _, _ := newHarness(t)
	assert.True(t, sched.fairnessAllows("team-a"))
}
