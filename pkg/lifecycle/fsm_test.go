package lifecycle

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, fsm *FSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmdData, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmdData})
}

func TestFSMAppliesCreateJob(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	fsm := NewFSM(store)
	result := applyCmd(t, fsm, OpCreateJob, &types.Job{ID: "job-1", Status: types.JobPending})
	assert.Nil(t, result)

	job, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, job.Status)
}

func TestFSMUnknownCommandReturnsError(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	fsm := NewFSM(store)
	result := applyCmd(t, fsm, "bogus_op", map[string]string{})
	assert.Error(t, result.(error))
}

func TestFSMSnapshotAndRestore(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	fsm := NewFSM(store)
	applyCmd(t, fsm, OpCreateJob, &types.Job{ID: "job-1", Status: types.JobPending})
	applyCmd(t, fsm, OpCreatePool, &types.Pool{ID: "pool-1", Name: "pool-1"})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	sink := &memSink{buf: &buf}
	require.NoError(t, snap.Persist(sink))

	store2, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store2.Close()

	fsm2 := NewFSM(store2)
	require.NoError(t, fsm2.Restore(&readCloser{Buffer: &buf}))

	job, err := store2.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobID("job-1"), job.ID)

	pool, err := store2.GetPool("pool-1")
	require.NoError(t, err)
	assert.Equal(t, "pool-1", pool.Name)
}

// memSink is a minimal in-memory raft.SnapshotSink for tests.
type memSink struct {
	buf *bytes.Buffer
}

func (m *memSink) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memSink) Close() error                { return nil }
func (m *memSink) ID() string                  { return "test-snapshot" }
func (m *memSink) Cancel() error               { return nil }

type readCloser struct {
	*bytes.Buffer
}

func (r *readCloser) Close() error { return nil }
