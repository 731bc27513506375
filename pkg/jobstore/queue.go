package jobstore

import (
	"container/heap"
	"sync"
	"time"

	"github.com/orchestrator/controlplane/pkg/types"
)

// queueEntry is one job waiting for the scheduler, ranked by priority
// (higher first) and, within a priority, by createdAt (earlier first).
type queueEntry struct {
	jobID     types.JobID
	priority  types.JobPriority
	createdAt time.Time
	index     int
}

// entryHeap is a container/heap.Interface implementing the Queue's ranking.
type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	entry := x.(*queueEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// Queue is the in-memory priority queue of job IDs awaiting dispatch,
// ordered by (priority, createdAt) and guarded by the same mutex that
// protects the heap slice.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	byJobID map[types.JobID]*queueEntry
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{byJobID: make(map[types.JobID]*queueEntry)}
}

// Push inserts a job at its priority/createdAt rank.
func (q *Queue) Push(jobID types.JobID, priority types.JobPriority, createdAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byJobID[jobID]; exists {
		return
	}

	entry := &queueEntry{jobID: jobID, priority: priority, createdAt: createdAt}
	heap.Push(&q.heap, entry)
	q.byJobID[jobID] = entry
}

// Peek returns the highest-ranked job ID without removing it.
func (q *Queue) Peek() (types.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return "", false
	}
	return q.heap[0].jobID, true
}

// Claim removes and returns the highest-ranked job ID.
func (q *Queue) Claim() (types.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return "", false
	}
	entry := heap.Pop(&q.heap).(*queueEntry)
	delete(q.byJobID, entry.jobID)
	return entry.jobID, true
}

// Requeue reinserts a job with its original priority but a fresh createdAt:
// retries don't jump the queue on priority, but they also don't keep their
// ancient timestamp forever.
func (q *Queue) Requeue(jobID types.JobID, priority types.JobPriority) {
	q.Push(jobID, priority, time.Now())
}

// Remove drops a job from the queue without ranking side effects, used by
// Cancel on a still-queued job.
func (q *Queue) Remove(jobID types.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.byJobID[jobID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, entry.index)
	delete(q.byJobID, jobID)
	return true
}

// Len returns the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Contains reports whether jobID is currently queued.
func (q *Queue) Contains(jobID types.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.byJobID[jobID]
	return exists
}
