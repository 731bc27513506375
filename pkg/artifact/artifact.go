// Package artifact implements the content-addressed blob store: artifacts
// are identified by the SHA-256 digest of their uncompressed bytes, metadata
// is persisted through pkg/storage, and blob bytes live under a directory
// tree keyed by digest (DataDir/objects/<aa>/<rest>).
package artifact

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

const (
	DefaultChunkBytes = 64 * 1024
	MinChunkBytes     = 1024
	MaxChunkBytes     = 4 * 1024 * 1024
)

// Compression names the wire encoding used for a chunk's bytes.
type Compression string

const (
	CompressionNone Compression = "NONE"
	CompressionGzip Compression = "GZIP"
)

// Chunk is one ordered piece of an artifact's byte stream.
type Chunk struct {
	ArtifactID   types.ArtifactID
	Seq          int
	Bytes        []byte
	IsLast       bool
	Compression  Compression
	OriginalSize int64
}

// Cache is the content-addressed artifact store. Writes are single-writer
// per ID with last-writer-wins semantics on metadata only, since bytes at a
// given ID are identical by construction (the ID is their hash).
type Cache struct {
	store      storage.Store
	objectsDir string
	mu         sync.Mutex
}

// NewCache creates an artifact cache rooted at <dataDir>/objects.
func NewCache(store storage.Store, dataDir string) (*Cache, error) {
	dir := filepath.Join(dataDir, "objects")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects dir: %w", err)
	}
	return &Cache{store: store, objectsDir: dir}, nil
}

func (c *Cache) pathFor(digest string) string {
	return filepath.Join(c.objectsDir, digest[:2], digest[2:])
}

// Put computes the SHA-256 of data, writes it atomically, and returns its
// ID. Idempotent: writing the same bytes twice succeeds both times.
func (c *Cache) Put(data []byte, kind types.ArtifactKind) (types.ArtifactID, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	id := types.ArtifactID(digest)

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.pathFor(digest)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create object shard dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	existing, err := c.store.GetArtifact(id)
	if err == nil && existing != nil {
		existing.Referenced++
		return id, c.store.UpdateArtifact(existing)
	}

	return id, c.store.CreateArtifact(&types.Artifact{
		ID:        id,
		Kind:      kind,
		Digest:    digest,
		SizeBytes: int64(len(data)),
	})
}

// Get returns the bytes stored at id, or (nil, false) if absent.
func (c *Cache) Get(id types.ArtifactID) ([]byte, bool, error) {
	path := c.pathFor(string(id))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read object: %w", err)
	}
	return data, true, nil
}

// Has performs a bulk membership query.
func (c *Cache) Has(ids []types.ArtifactID) map[types.ArtifactID]bool {
	result := make(map[types.ArtifactID]bool, len(ids))
	for _, id := range ids {
		_, err := os.Stat(c.pathFor(string(id)))
		result[id] = err == nil
	}
	return result
}

// ChunkStream returns a pull-based iterator over an artifact's bytes, split
// into chunkSize pieces. When compression is GZIP each chunk carries
// compressed bytes alongside the declared original size.
func (c *Cache) ChunkStream(id types.ArtifactID, chunkSize int, compression Compression) (func() (Chunk, bool, error), error) {
	if chunkSize < MinChunkBytes {
		chunkSize = MinChunkBytes
	}
	if chunkSize > MaxChunkBytes {
		chunkSize = MaxChunkBytes
	}

	data, ok, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, fmt.Sprintf("artifact %s not cached", id))
	}

	seq := 0
	offset := 0
	done := false

	return func() (Chunk, bool, error) {
		if done {
			return Chunk{}, false, nil
		}

		end := offset + chunkSize
		if end >= len(data) {
			end = len(data)
			done = true
		}
		raw := data[offset:end]
		offset = end

		chunk := Chunk{ArtifactID: id, Seq: seq, IsLast: done, Compression: compression, OriginalSize: int64(len(raw))}
		seq++

		if compression == CompressionGzip {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			if _, err := gw.Write(raw); err != nil {
				return Chunk{}, false, fmt.Errorf("failed to gzip chunk: %w", err)
			}
			if err := gw.Close(); err != nil {
				return Chunk{}, false, fmt.Errorf("failed to close gzip writer: %w", err)
			}
			chunk.Bytes = buf.Bytes()
		} else {
			chunk.Bytes = raw
		}

		return chunk, true, nil
	}, nil
}

// AssembleFromChunks reassembles an artifact from an ordered chunk stream,
// verifying seq is monotonic starting at 0 and that the reassembled bytes
// hash to the declared id. A mismatch fails with KindCorruptArtifact.
func AssembleFromChunks(id types.ArtifactID, next func() (Chunk, bool, error)) ([]byte, error) {
	var buf bytes.Buffer
	wantSeq := 0

	for {
		chunk, ok, err := next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if chunk.Seq != wantSeq {
			return nil, orcherr.New(orcherr.KindInternal, fmt.Sprintf("non-monotonic chunk seq: got %d want %d", chunk.Seq, wantSeq))
		}
		wantSeq++

		raw := chunk.Bytes
		if chunk.Compression == CompressionGzip {
			gr, err := gzip.NewReader(bytes.NewReader(chunk.Bytes))
			if err != nil {
				return nil, fmt.Errorf("failed to open gzip chunk: %w", err)
			}
			decompressed, err := io.ReadAll(gr)
			gr.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress chunk: %w", err)
			}
			raw = decompressed
		}

		buf.Write(raw)
		if chunk.IsLast {
			break
		}
	}

	sum := sha256.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])
	if digest != string(id) {
		return nil, orcherr.New(orcherr.KindCorruptArtifact, fmt.Sprintf("assembled hash %s does not match declared id %s", digest, id))
	}

	return buf.Bytes(), nil
}
