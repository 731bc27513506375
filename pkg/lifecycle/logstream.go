package lifecycle

import (
	"sync"

	"github.com/orchestrator/controlplane/pkg/types"
)

// LogLine is one line of Execution output, numbered so subscribers can
// resume after a disconnect.
type LogLine struct {
	Seq  uint64
	Line string
}

// logRing is a fixed-capacity, best-effort ring buffer of LogLines for one
// Execution. Once capacity is exceeded the oldest lines are overwritten;
// subscribers that fall behind far enough to hit an evicted sequence number
// are told they are Lagged rather than served a gap.
type logRing struct {
	mu       sync.Mutex
	lines    []LogLine
	next     int
	count    int
	capacity int
	nextSeq  uint64
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &logRing{lines: make([]LogLine, capacity), capacity: capacity}
}

func (r *logRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.lines[r.next] = LogLine{Seq: r.nextSeq, Line: line}
	r.next = (r.next + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// oldestSeq returns the lowest sequence number still retained, or 0 if
// empty.
func (r *logRing) oldestSeq() uint64 {
	if r.count == 0 {
		return 0
	}
	return r.lines[(r.next-r.count+r.capacity)%r.capacity].Seq
}

// since returns all retained lines with Seq > afterSeq, and whether the
// caller has Lagged (missed lines that have already been evicted).
func (r *logRing) since(afterSeq uint64) (lines []LogLine, lagged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}
	oldest := r.oldestSeq()
	if afterSeq != 0 && afterSeq < oldest-1 {
		lagged = true
	}
	start := (r.next - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		l := r.lines[(start+i)%r.capacity]
		if l.Seq > afterSeq {
			lines = append(lines, l)
		}
	}
	return lines, lagged
}

// LogStreams holds one ring buffer per live Execution, bounded by the line
// count passed to NewLogStreams. Logs are
// best-effort: a slow reader sees a Lagged marker instead of blocking the
// writer.
type LogStreams struct {
	mu       sync.Mutex
	rings    map[types.ExecutionID]*logRing
	capacity int
}

// NewLogStreams creates a LogStreams keeping up to capacity lines per
// Execution.
func NewLogStreams(capacity int) *LogStreams {
	return &LogStreams{rings: make(map[types.ExecutionID]*logRing), capacity: capacity}
}

// Append records one log line for execID, allocating its ring on first use.
func (s *LogStreams) Append(execID types.ExecutionID, line string) {
	s.mu.Lock()
	ring, ok := s.rings[execID]
	if !ok {
		ring = newLogRing(s.capacity)
		s.rings[execID] = ring
	}
	s.mu.Unlock()
	ring.append(line)
}

// Since returns lines appended after afterSeq for execID, and whether the
// caller lagged past the retained window. A missing execID (never written
// to, or already reaped) returns no lines and lagged=false.
func (s *LogStreams) Since(execID types.ExecutionID, afterSeq uint64) ([]LogLine, bool) {
	s.mu.Lock()
	ring, ok := s.rings[execID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ring.since(afterSeq)
}

// Forget drops the ring buffer for execID. Nothing in the control plane
// calls it, so rings are kept until the process exits.
func (s *LogStreams) Forget(execID types.ExecutionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, execID)
}
