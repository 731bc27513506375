package jobstore

import (
	"testing"
	"time"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backing, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(backing, broker)
}

func TestSubmitQueuesJob(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Submit(Definition{Namespace: "default", Name: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)
	assert.True(t, s.Queue().Contains(job.ID))
}

func TestPriorityOrdering(t *testing.T) {
	s := newTestStore(t)

	low, err := s.Submit(Definition{Name: "low", Priority: types.PriorityLow})
	require.NoError(t, err)
	high, err := s.Submit(Definition{Name: "high", Priority: types.PriorityHigh})
	require.NoError(t, err)

	claimed, ok, err := s.Claim()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, high.ID, claimed.ID)

	claimed, ok, err = s.Claim()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, low.ID, claimed.ID)
}

func TestFIFOWithinSamePriority(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Submit(Definition{Name: "first", Priority: types.PriorityNormal})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := s.Submit(Definition{Name: "second", Priority: types.PriorityNormal})
	require.NoError(t, err)

	claimed, _, err := s.Claim()
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	claimed, _, err = s.Claim()
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
}

func TestClaimTransitionsToPending(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Submit(Definition{Name: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)

	claimed, ok, err := s.Claim()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.JobPending, claimed.Status)
	assert.False(t, s.Queue().Contains(job.ID))
}

func TestCancelQueuedJobRemovesFromQueue(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Submit(Definition{Name: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)

	cancelled, err := s.Cancel(job.ID, "oops")
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, cancelled.Status)
	assert.False(t, s.Queue().Contains(job.ID))
}

func TestCancelIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Submit(Definition{Name: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)

	first, err := s.Cancel(job.ID, "first")
	require.NoError(t, err)

	second, err := s.Cancel(job.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
}

func TestRequeueBumpsCreatedAt(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Submit(Definition{Name: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)
	_, _, err = s.Claim()
	require.NoError(t, err)

	require.NoError(t, s.Requeue(job.ID, "worker disconnected"))
	assert.True(t, s.Queue().Contains(job.ID))

	updated, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, updated.CreatedAt.After(job.CreatedAt) || updated.CreatedAt.Equal(job.CreatedAt))
	assert.Equal(t, 1, updated.Attempts)
}

func TestRetryDelayExponentialBackoff(t *testing.T) {
	policy := types.RetryPolicy{BaseDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, RetryDelay(policy, 0))
	assert.Equal(t, 2*time.Second, RetryDelay(policy, 1))
	assert.Equal(t, 4*time.Second, RetryDelay(policy, 2))
}
