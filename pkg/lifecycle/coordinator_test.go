package lifecycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directApplier applies a Command straight to an in-process FSM, skipping
// Raft consensus, for unit tests of Coordinator's transition logic.
type directApplier struct {
	fsm *FSM
}

func (d *directApplier) Apply(cmd Command) error {
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

func newHarness(t *testing.T) (*Coordinator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	fsm := NewFSM(store)
	applier := &directApplier{fsm: fsm}
	return New(applier, store, broker, 100, nil, nil, nil), store
}

func TestTransitionJobRejectsIllegalMove(t *testing.T) {
	coord, store := newHarness(t)

	require.NoError(t, store.CreateJob(&types.Job{ID: "job-1", Status: types.JobCompleted}))

	err := coord.TransitionJob("job-1", types.JobRunning)
	require.Error(t, err)
}

func TestTransitionJobAppliesLegalMove(t *testing.T) {
	coord, store := newHarness(t)

	require.NoError(t, store.CreateJob(&types.Job{ID: "job-1", Status: types.JobPending}))

	require.NoError(t, coord.TransitionJob("job-1", types.JobQueued))

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
}

func TestDispatchAndFinishExecution(t *testing.T) {
	coord, store := newHarness(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", State: types.ExecutionPending}))

	require.NoError(t, coord.DispatchExecution("exec-1", "worker-1", "pool-1"))
	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, exec.State, "dispatch alone must not mark the execution running")
	assert.Equal(t, types.WorkerID("worker-1"), exec.WorkerID)
	assert.False(t, exec.DispatchedAt.IsZero())

	require.NoError(t, coord.StartExecution("exec-1"))
	exec, err = store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionRunning, exec.State)

	zero := 0
	require.NoError(t, coord.FinishExecution("exec-1", types.ExecutionSucceeded, &zero, "", "", nil))
	exec, err = store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionSucceeded, exec.State)
	assert.False(t, exec.FinishedAt.IsZero())
}

func TestStartExecutionRejectsFromTerminalState(t *testing.T) {
	coord, store := newHarness(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", State: types.ExecutionSucceeded}))

	err := coord.StartExecution("exec-1")
	require.Error(t, err)
}

func TestFinishExecutionRejectsDoubleTerminal(t *testing.T) {
	coord, store := newHarness(t)

	require.NoError(t, store.CreateExecution(&types.Execution{ID: "exec-1", State: types.ExecutionSucceeded}))

	err := coord.FinishExecution("exec-1", types.ExecutionFailed, nil, "", "", nil)
	require.Error(t, err)
}

func TestAppendLogAndSince(t *testing.T) {
	coord, _ := newHarness(t)

	coord.AppendLog("exec-1", "line one")
	coord.AppendLog("exec-1", "line two")

	lines, lagged := coord.Logs().Since("exec-1", 0)
	require.Len(t, lines, 2)
	assert.False(t, lagged)
	assert.Equal(t, "line one", lines[0].Line)

	more, lagged := coord.Logs().Since("exec-1", lines[0].Seq)
	require.Len(t, more, 1)
	assert.False(t, lagged)
	assert.Equal(t, "line two", more[0].Line)
}

func TestLogRingLagged(t *testing.T) {
	ring := newLogRing(3)
	for i := 0; i < 10; i++ {
		ring.append("x")
	}

	lines, lagged := ring.since(1)
	assert.True(t, lagged)
	assert.Len(t, lines, 3)
}

func TestNowFuncOverridable(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := nowFunc
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = old }()

	assert.Equal(t, fixed, now())
}
