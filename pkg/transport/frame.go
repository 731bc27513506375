// Package transport implements the Worker Transport: a long-lived,
// length-delimited, JSON-framed duplex channel per connected worker,
// multiplexing the server→worker and worker→server message kinds. JSON
// frames over a plain net.Conn replace a generated gRPC service here,
// since no .proto definitions for this domain are available to generate
// from.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/orchestrator/controlplane/pkg/types"
)

// Kind tags a Frame's payload, one of the twelve message kinds the wire
// protocol multiplexes over a single connection.
type Kind string

const (
	// Worker -> server, first frame on a new connection
	KindRegister Kind = "register"

	// Server -> worker, reply to KindRegister
	KindRegistered Kind = "registered"

	// Server -> worker
	KindJobRequest  Kind = "job_request"
	KindArtifactChunk Kind = "artifact_chunk"
	KindCacheQuery  Kind = "cache_query"
	KindCancelJob   Kind = "cancel_job"
	KindShutdown    Kind = "shutdown"

	// Worker -> server
	KindHeartbeat     Kind = "heartbeat"
	KindStatusUpdate  Kind = "status_update"
	KindLogChunk      Kind = "log_chunk"
	KindArtifactAck   Kind = "artifact_ack"
	KindCacheResponse Kind = "cache_response"
)

// Frame is one message on the wire. Only the fields relevant to Kind are
// populated; unused fields are omitted from the JSON encoding.
type Frame struct {
	Kind        Kind                `json:"kind"`
	Seq         uint64              `json:"seq"`
	JobID       types.JobID         `json:"job_id,omitempty"`
	ExecutionID types.ExecutionID   `json:"execution_id,omitempty"`
	WorkerID    types.WorkerID      `json:"worker_id,omitempty"`
	Token       string              `json:"token,omitempty"`

	// Register / Registered
	PoolID        types.PoolID          `json:"pool_id,omitempty"`
	Capabilities  map[string]string     `json:"capabilities,omitempty"`
	Resources     types.ResourceUnits   `json:"resources,omitempty"`
	HeartbeatMs   int64                 `json:"heartbeat_ms,omitempty"`
	ClientCertDER []byte                `json:"client_cert_der,omitempty"`

	// JobRequest
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	WorkDir   string            `json:"work_dir,omitempty"`
	Artifacts []types.ArtifactID `json:"artifacts,omitempty"`

	// ArtifactChunk / ArtifactAck
	ArtifactID    types.ArtifactID `json:"artifact_id,omitempty"`
	ChunkSeq      int              `json:"chunk_seq,omitempty"`
	ChunkBytes    []byte           `json:"chunk_bytes,omitempty"`
	ChunkIsLast   bool             `json:"chunk_is_last,omitempty"`
	Compression   string           `json:"compression,omitempty"`
	OriginalSize  int64            `json:"original_size,omitempty"`
	AckSuccess    bool             `json:"ack_success,omitempty"`
	AckCacheHit   bool             `json:"ack_cache_hit,omitempty"`

	// CacheQuery / CacheResponse
	QueryIDs    []types.ArtifactID          `json:"query_ids,omitempty"`
	CachedFlags map[types.ArtifactID]bool   `json:"cached_flags,omitempty"`

	// CancelJob
	Force bool `json:"force,omitempty"`

	// Heartbeat
	Status      string `json:"status,omitempty"`
	ActiveJobs  int    `json:"active_jobs,omitempty"`

	// StatusUpdate
	ExitCode *int   `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`

	// LogChunk
	LogLine string `json:"log_line,omitempty"`

	TimestampSec  int64 `json:"ts_sec"`
	TimestampNsec int32 `json:"ts_nsec"`
}

const maxFrameBytes = 16 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length header followed by the
// JSON-encoded frame.
func WriteFrame(w io.Writer, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if len(data) > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(data), maxFrameBytes)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited JSON frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", size, maxFrameBytes)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return &f, nil
}
