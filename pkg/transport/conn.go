package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/types"
)

// WorkerConn is one connected worker's duplex channel: an inbound reader
// goroutine and an outbound writer goroutine sharing a bounded send buffer,
// so reads and writes never block each other.
type WorkerConn struct {
	WorkerID types.WorkerID

	conn   net.Conn
	outbox chan *Frame
	seq    uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWorkerConn wraps conn with a bounded outbound buffer (default 256
// messages), giving a slow worker connection backpressure instead of an
// unbounded queue.
func NewWorkerConn(workerID types.WorkerID, conn net.Conn, sendBufferMessages int) *WorkerConn {
	if sendBufferMessages <= 0 {
		sendBufferMessages = 256
	}
	return &WorkerConn{
		WorkerID: workerID,
		conn:     conn,
		outbox:   make(chan *Frame, sendBufferMessages),
		closed:   make(chan struct{}),
	}
}

// Send enqueues a frame for delivery, blocking if the outbound buffer is
// full. Returns an error if the connection has already been closed.
func (c *WorkerConn) Send(f *Frame) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection to worker %s is closed", c.WorkerID)
	default:
	}

	f.Seq = atomic.AddUint64(&c.seq, 1)
	select {
	case c.outbox <- f:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection to worker %s is closed", c.WorkerID)
	}
}

// runOutbound drains the outbox in FIFO order onto the wire. Call in its own
// goroutine.
func (c *WorkerConn) runOutbound() {
	for {
		select {
		case f := <-c.outbox:
			if err := WriteFrame(c.conn, f); err != nil {
				log.Errorf("transport: failed to write frame to worker", err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// runInbound reads frames off the wire and invokes handle for each, in the
// order received. Call in its own goroutine; blocks until reading a frame
// fails, then closes the connection.
func (c *WorkerConn) runInbound(handle func(*Frame)) {
	for {
		f, err := ReadFrame(c.conn)
		if err != nil {
			c.Close()
			return
		}
		handle(f)
	}
}

// Start launches the inbound and outbound goroutines.
func (c *WorkerConn) Start(handleInbound func(*Frame)) {
	go c.runOutbound()
	go c.runInbound(handleInbound)
}

// Close shuts down the connection exactly once.
func (c *WorkerConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Registry tracks live WorkerConns by WorkerID so the Scheduler and
// Lifecycle can look up the channel for a given worker.
type Registry struct {
	mu    sync.RWMutex
	conns map[types.WorkerID]*WorkerConn
}

// NewRegistry creates an empty connection Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[types.WorkerID]*WorkerConn)}
}

// Add registers a live connection, replacing any prior connection for the
// same worker (the old one is closed, since a worker reconnecting implies
// its previous channel is stale).
func (r *Registry) Add(c *WorkerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, exists := r.conns[c.WorkerID]; exists {
		old.Close()
	}
	r.conns[c.WorkerID] = c
}

// Get returns the live connection for workerID, if any.
func (r *Registry) Get(workerID types.WorkerID) (*WorkerConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[workerID]
	return c, ok
}

// Remove drops a worker's connection entry.
func (r *Registry) Remove(workerID types.WorkerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, workerID)
}
