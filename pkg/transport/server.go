package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/orchestrator/controlplane/pkg/artifact"
	"github.com/orchestrator/controlplane/pkg/lifecycle"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/metrics"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/registry"
	"github.com/orchestrator/controlplane/pkg/security"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// Waker lets the Server nudge the Scheduler into an extra scheduling pass
// (a heartbeat just freed capacity, an Execution just finished) without this
// package importing pkg/scheduler, which already imports pkg/transport.
// *scheduler.Scheduler satisfies this structurally.
type Waker interface{ Wake() }

// pendingDispatch tracks an Execution between the scheduler handing it to
// DispatchJob and the worker actually receiving its job_request frame, while
// the artifact pre-stage protocol (cache_query -> cache_response -> any
// missing chunks -> artifact_ack) runs.
type pendingDispatch struct {
	workerID  types.WorkerID
	job       *types.Job
	remaining int
}

// Server is the Worker Transport's listener. It accepts worker connections,
// runs the registration handshake, and for the life of each connection
// dispatches every inbound frame by Kind.
type Server struct {
	addr    string
	tlsConf *tls.Config

	wreg      *registry.Registry
	coord     *lifecycle.Coordinator
	artifacts *artifact.Cache
	store     storage.Store
	conns     *Registry
	waker     Waker

	sendBufferMessages int
	chunkBytes          int

	mu      sync.Mutex
	pending map[types.ExecutionID]pendingDispatch

	listener net.Listener
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer creates a Server bound to addr. ca is optional: when non-nil and
// already initialized, the listener is upgraded to mutual TLS, issuing
// itself a server certificate and requiring/verifying a client certificate
// on every connection. A nil ca yields a plain TCP listener, matching a
// cluster that has not configured an encryption key yet.
func NewServer(addr string, ca *security.CertAuthority, wreg *registry.Registry, coord *lifecycle.Coordinator, artifacts *artifact.Cache, store storage.Store, sendBufferMessages, chunkBytes int) (*Server, error) {
	s := &Server{
		addr:                addr,
		wreg:                wreg,
		coord:               coord,
		artifacts:           artifacts,
		store:               store,
		conns:               NewRegistry(),
		sendBufferMessages:  sendBufferMessages,
		chunkBytes:          chunkBytes,
		pending:             make(map[types.ExecutionID]pendingDispatch),
		stopCh:              make(chan struct{}),
	}

	if ca != nil && ca.IsInitialized() {
		nodeCert, err := ca.IssueNodeCertificate("worker-transport", "server", nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to issue worker transport server certificate: %w", err)
		}
		rootCert, err := x509.ParseCertificate(ca.GetRootCACert())
		if err != nil {
			return nil, fmt.Errorf("failed to parse root CA certificate: %w", err)
		}
		clientCAs := x509.NewCertPool()
		clientCAs.AddCert(rootCert)

		s.tlsConf = &tls.Config{
			Certificates: []tls.Certificate{*nodeCert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    clientCAs,
			MinVersion:   tls.VersionTLS12,
		}
	}

	return s, nil
}

// SetWaker installs the Scheduler (or anything Waker-shaped) to be nudged on
// heartbeats and Execution completions.
func (s *Server) SetWaker(w Waker) { s.waker = w }

// Conns exposes the live-connection registry, e.g. for an admin endpoint
// listing currently connected workers.
func (s *Server) Conns() *Registry { return s.conns }

// Serve accepts connections until Close is called. Meant to be run in its
// own goroutine by the caller.
func (s *Server) Serve() error {
	var ln net.Listener
	var err error
	if s.tlsConf != nil {
		ln, err = tls.Listen("tcp", s.addr, s.tlsConf)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on worker transport address %s: %w", s.addr, err)
	}
	s.listener = ln

	log.WithComponent("transport").Info("worker transport listening on " + s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			log.Errorf("transport: accept failed", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. Already-connected workers are left
// running; they drop out of the Registry as their connections fail.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConn performs the registration handshake and, on success, wraps the
// connection in a WorkerConn and starts dispatching inbound frames.
func (s *Server) handleConn(netConn net.Conn) {
	first, err := ReadFrame(netConn)
	if err != nil {
		log.Errorf("transport: failed to read registration frame", err)
		netConn.Close()
		return
	}
	if first.Kind != KindRegister {
		log.Error("transport: first frame on a new connection was not a registration")
		netConn.Close()
		return
	}

	result, err := s.wreg.Register(first.WorkerID, first.PoolID, first.Capabilities, first.Resources)
	if err != nil {
		log.Errorf("transport: worker registration rejected", err)
		netConn.Close()
		return
	}

	reply := &Frame{
		Kind:          KindRegistered,
		WorkerID:      first.WorkerID,
		Token:         result.SessionToken,
		HeartbeatMs:   result.HeartbeatInterval.Milliseconds(),
		ClientCertDER: result.IssuedCertDER,
	}
	if err := WriteFrame(netConn, reply); err != nil {
		log.Errorf("transport: failed to send registration reply", err)
		netConn.Close()
		return
	}

	workerID := first.WorkerID
	wc := NewWorkerConn(workerID, netConn, s.sendBufferMessages)
	s.conns.Add(wc)
	log.WithWorkerID(string(workerID)).Info("transport: worker connected")
	wc.Start(func(f *Frame) { s.handleFrame(workerID, f) })
}

// handleFrame dispatches one inbound frame by Kind. Every kind but Heartbeat
// (which authenticates itself through Registry.Heartbeat) must carry a
// still-live session token.
func (s *Server) handleFrame(workerID types.WorkerID, f *Frame) {
	if f.Kind != KindHeartbeat && !s.wreg.ValidateSession(workerID, f.Token) {
		log.WithWorkerID(string(workerID)).Warn("transport: dropped frame with invalid or stale session token")
		return
	}

	switch f.Kind {
	case KindHeartbeat:
		s.handleHeartbeat(workerID, f)
	case KindStatusUpdate:
		s.handleStatusUpdate(f)
	case KindLogChunk:
		s.coord.AppendLog(f.ExecutionID, f.LogLine)
	case KindCacheResponse:
		s.handleCacheResponse(workerID, f)
	case KindArtifactAck:
		s.handleArtifactAck(workerID, f)
	default:
		log.WithWorkerID(string(workerID)).Warn("transport: unhandled inbound frame kind " + string(f.Kind))
	}
}

func (s *Server) handleHeartbeat(workerID types.WorkerID, f *Frame) {
	status := types.WorkerStatus(f.Status)
	if status == "" {
		status = types.WorkerOnline
	}
	if err := s.wreg.Heartbeat(workerID, f.Token, status, f.ActiveJobs); err != nil {
		log.Errorf("transport: heartbeat rejected", err)
		return
	}
	metrics.WorkerHeartbeatsTotal.WithLabelValues(string(workerID)).Inc()
	if s.waker != nil {
		s.waker.Wake()
	}
}

func (s *Server) handleStatusUpdate(f *Frame) {
	switch f.Status {
	case "running":
		if err := s.coord.StartExecution(f.ExecutionID); err != nil {
			log.Errorf("transport: failed to commit execution start", err)
		}
	case "succeeded":
		s.finishExecution(f, types.ExecutionSucceeded, "", "")
	case "failed":
		s.finishExecution(f, types.ExecutionFailed, orcherr.KindInternal, f.Message)
	case "cancelled":
		s.finishExecution(f, types.ExecutionCancelled, "", f.Message)
	default:
		log.Warn("transport: status_update with unrecognized status " + f.Status)
	}
}

func (s *Server) finishExecution(f *Frame, state types.ExecutionState, errKind orcherr.Kind, msg string) {
	if err := s.coord.FinishExecution(f.ExecutionID, state, f.ExitCode, errKind, msg, f.Artifacts); err != nil {
		log.Errorf("transport: failed to commit execution finish", err)
		return
	}
	if s.waker != nil {
		s.waker.Wake()
	}
}

// DispatchJob hands a claimed Job to workerID. When the job declares no
// required Artifacts the job_request frame goes out immediately; otherwise
// a cache_query frame goes out first and the job_request follows once every
// missing artifact has been streamed and acknowledged.
func (s *Server) DispatchJob(execID types.ExecutionID, workerID types.WorkerID, job *types.Job) error {
	conn, ok := s.conns.Get(workerID)
	if !ok {
		return orcherr.New(orcherr.KindUnavailable, fmt.Sprintf("no live connection for worker %s", workerID))
	}

	if len(job.Content.Artifacts) == 0 {
		return s.sendJobRequest(conn, execID, job)
	}

	s.mu.Lock()
	s.pending[execID] = pendingDispatch{workerID: workerID, job: job}
	s.mu.Unlock()

	return conn.Send(&Frame{
		Kind:        KindCacheQuery,
		ExecutionID: execID,
		JobID:       job.ID,
		QueryIDs:    job.Content.Artifacts,
	})
}

func (s *Server) sendJobRequest(conn *WorkerConn, execID types.ExecutionID, job *types.Job) error {
	return conn.Send(&Frame{
		Kind:        KindJobRequest,
		JobID:       job.ID,
		ExecutionID: execID,
		Command:     job.Content.Command,
		Env:         job.Content.Env,
		WorkDir:     job.Content.WorkDir,
		Artifacts:   job.Content.Artifacts,
	})
}

func (s *Server) handleCacheResponse(workerID types.WorkerID, f *Frame) {
	s.mu.Lock()
	pd, ok := s.pending[f.ExecutionID]
	s.mu.Unlock()
	if !ok {
		log.Warn("transport: cache_response for an execution with no pending dispatch")
		return
	}

	conn, ok := s.conns.Get(workerID)
	if !ok {
		s.clearPending(f.ExecutionID)
		return
	}

	var missing []types.ArtifactID
	for _, id := range pd.job.Content.Artifacts {
		if !f.CachedFlags[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		s.clearPending(f.ExecutionID)
		if err := s.sendJobRequest(conn, f.ExecutionID, pd.job); err != nil {
			log.Errorf("transport: failed to send job_request after cache check", err)
		}
		return
	}

	pd.remaining = len(missing)
	s.mu.Lock()
	s.pending[f.ExecutionID] = pd
	s.mu.Unlock()

	for _, id := range missing {
		if err := s.streamArtifact(conn, f.ExecutionID, id); err != nil {
			log.Errorf("transport: failed to stream artifact to worker", err)
		}
	}
}

func (s *Server) streamArtifact(conn *WorkerConn, execID types.ExecutionID, id types.ArtifactID) error {
	started := time.Now()
	next, err := s.artifacts.ChunkStream(id, s.chunkBytes, artifact.CompressionGzip)
	if err != nil {
		return err
	}
	for {
		chunk, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := conn.Send(&Frame{
			Kind:         KindArtifactChunk,
			ExecutionID:  execID,
			ArtifactID:   chunk.ArtifactID,
			ChunkSeq:     chunk.Seq,
			ChunkBytes:   chunk.Bytes,
			ChunkIsLast:  chunk.IsLast,
			Compression:  string(chunk.Compression),
			OriginalSize: chunk.OriginalSize,
		}); err != nil {
			return err
		}
	}
	metrics.ArtifactTransferDuration.WithLabelValues("download").Observe(time.Since(started).Seconds())
	return nil
}

func (s *Server) handleArtifactAck(workerID types.WorkerID, f *Frame) {
	s.mu.Lock()
	pd, ok := s.pending[f.ExecutionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pd.remaining--
	s.pending[f.ExecutionID] = pd
	remaining := pd.remaining
	s.mu.Unlock()

	if !f.AckSuccess {
		log.WithWorkerID(string(workerID)).Warn("transport: worker reported an artifact transfer failure")
		return
	}
	if remaining > 0 {
		return
	}

	s.clearPending(f.ExecutionID)
	conn, ok := s.conns.Get(workerID)
	if !ok {
		return
	}
	if err := s.sendJobRequest(conn, f.ExecutionID, pd.job); err != nil {
		log.Errorf("transport: failed to send job_request after artifact transfer", err)
	}
}

func (s *Server) clearPending(execID types.ExecutionID) {
	s.mu.Lock()
	delete(s.pending, execID)
	s.mu.Unlock()
}
