package facade

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/orchestrator/controlplane/pkg/artifact"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/pool"
	"github.com/orchestrator/controlplane/pkg/registry"
	"github.com/orchestrator/controlplane/pkg/scheduler"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/transport"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func newTestFacade(t *testing.T) *Facade {
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
	fsm := lifecycle.NewFSM(store)
	coord := lifecycle.New(&directApplier{fsm: fsm}, store, broker, 100, jobs, pools, quotas)

	cache, err := artifact.NewCache(store, t.TempDir())
	require.NoError(t, err)

	transp, err := transport.NewServer("127.0.0.1:0", nil, wreg, coord, cache, store, 8, 1<<20)
	require.NoError(t, err)
	sched := scheduler.New(jobs, pools, quotas, transp, coord, store, broker, 0)

	return New(store, jobs, sched, coord, pools, quotas, cache, broker)
}

func TestSubmitAndGetJob(t *testing.T) {
	f := newTestFacade(t)

	job, err := f.SubmitJob(jobstore.Definition{
		Namespace: "default", Name: "job-1",
		Content: types.JobContent{Command: []string{"echo", "hi"}},
	})
	require.NoError(t, err)

	fetched, err := f.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
}

func TestListJobsFiltersByNamespace(t *testing.T) {
	f := newTestFacade(t)

	_, err := f.SubmitJob(jobstore.Definition{Namespace: "team-a", Name: "a"})
	require.NoError(t, err)
	_, err = f.SubmitJob(jobstore.Definition{Namespace: "team-b", Name: "b"})
	require.NoError(t, err)

	got, err := f.ListJobs(JobFilter{Namespace: "team-a"}, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "team-a", got[0].Namespace)
}

func TestListJobsPaginates(t *testing.T) {
	f := newTestFacade(t)
	for i := 0; i < 5; i++ {
		_, err := f.SubmitJob(jobstore.Definition{Namespace: "default", Name: "job"})
		require.NoError(t, err)
	}

	got, err := f.ListJobs(JobFilter{}, Page{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCancelJob(t *testing.T) {
	f := newTestFacade(t)

	job, err := f.SubmitJob(jobstore.Definition{Namespace: "default", Name: "job-1"})
	require.NoError(t, err)

	cancelled, err := f.CancelJob(job.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, cancelled.Status)
}

func TestRetryJobRejectsNonFailed(t *testing.T) {
	f := newTestFacade(t)

	job, err := f.SubmitJob(jobstore.Definition{Namespace: "default", Name: "job-1"})
	require.NoError(t, err)

	err = f.RetryJob(job.ID, "manual retry")
	require.Error(t, err)
}

func TestStreamLogsReturnsAppendedLines(t *testing.T) {
	f := newTestFacade(t)
	f.coord.AppendLog("exec-1", "hello")

	lines, lagged := f.StreamLogs("exec-1", 0)
	require.Len(t, lines, 1)
	assert.False(t, lagged)
	assert.Equal(t, "hello", lines[0].Line)
}

func TestPoolLifecycleThroughFacade(t *testing.T) {
	f := newTestFacade(t)

	p, err := f.CreatePool("pool-a", "default", types.ProvisionerLocal, types.ResourceUnits{CPUCores: 4}, "")
	require.NoError(t, err)

	drained, err := f.DrainPool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolDraining, drained.Status)

	resumed, err := f.ResumePool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolActive, resumed.Status)
}

func TestArtifactRoundtripThroughFacade(t *testing.T) {
	f := newTestFacade(t)

	id, err := f.cache.Put([]byte("payload"), types.ArtifactInput)
	require.NoError(t, err)

	data, ok, err := f.GetArtifact(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	flags := f.HasArtifacts([]types.ArtifactID{id, "missing"})
	assert.True(t, flags[id])
	assert.False(t, flags["missing"])
}
