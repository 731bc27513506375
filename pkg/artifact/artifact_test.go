package artifact

import (
	"testing"

	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := NewCache(store, t.TempDir())
	require.NoError(t, err)
	return cache
}

func TestPutGetRoundtrip(t *testing.T) {
	cache := newTestCache(t)

	id, err := cache.Put([]byte("hello world"), types.ArtifactInput)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	data, ok, err := cache.Get(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world", string(data))
}

func TestPutIsIdempotent(t *testing.T) {
	cache := newTestCache(t)

	id1, err := cache.Put([]byte("same bytes"), types.ArtifactInput)
	require.NoError(t, err)
	id2, err := cache.Put([]byte("same bytes"), types.ArtifactInput)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestGetMissing(t *testing.T) {
	cache := newTestCache(t)

	_, ok, err := cache.Get(types.ArtifactID("deadbeef"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasBulkMembership(t *testing.T) {
	cache := newTestCache(t)

	id, err := cache.Put([]byte("present"), types.ArtifactInput)
	require.NoError(t, err)

	result := cache.Has([]types.ArtifactID{id, "not-there"})
	assert.True(t, result[id])
	assert.False(t, result["not-there"])
}

func TestChunkStreamAndAssemble(t *testing.T) {
	cache := newTestCache(t)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	id, err := cache.Put(payload, types.ArtifactOutput)
	require.NoError(t, err)

	next, err := cache.ChunkStream(id, 1024, CompressionNone)
	require.NoError(t, err)

	reassembled, err := AssembleFromChunks(id, next)
	require.NoError(t, err)
	assert.Equal(t, payload, reassembled)
}

func TestChunkStreamGzip(t *testing.T) {
	cache := newTestCache(t)

	payload := []byte("repeat repeat repeat repeat repeat repeat")
	id, err := cache.Put(payload, types.ArtifactOutput)
	require.NoError(t, err)

	next, err := cache.ChunkStream(id, 8, CompressionGzip)
	require.NoError(t, err)

	reassembled, err := AssembleFromChunks(id, next)
	require.NoError(t, err)
	assert.Equal(t, payload, reassembled)
}

func TestAssembleFromChunksDetectsCorruption(t *testing.T) {
	cache := newTestCache(t)

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	id, err := cache.Put(payload, types.ArtifactOutput)
	require.NoError(t, err)

	next, err := cache.ChunkStream(id, 1024, CompressionNone)
	require.NoError(t, err)

	seq := 0
	corrupted := func() (Chunk, bool, error) {
		chunk, ok, err := next()
		if ok && seq == 2 {
			chunk.Bytes = append([]byte(nil), chunk.Bytes...)
			chunk.Bytes[0] ^= 0xFF
		}
		seq++
		return chunk, ok, err
	}

	_, err = AssembleFromChunks(id, corrupted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestChunkStreamRejectsUnknownArtifact(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.ChunkStream(types.ArtifactID("missing"), 1024, CompressionNone)
	require.Error(t, err)
}
