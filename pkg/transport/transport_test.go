package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer

	f := &Frame{Kind: KindJobRequest, JobID: "job-1", Command: []string{"echo", "ok"}}
	require.NoError(t, WriteFrame(&buf, f))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Kind, decoded.Kind)
	assert.Equal(t, f.JobID, decoded.JobID)
	assert.Equal(t, f.Command, decoded.Command)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestFramesAreDeliveredInOrder(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewWorkerConn("worker-1", server, 16)

	var received []uint64
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			f, err := ReadFrame(client)
			require.NoError(t, err)
			received = append(received, f.Seq)
		}
		close(done)
	}()

	conn.Start(func(*Frame) {})
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Send(&Frame{Kind: KindLogChunk, LogLine: "line"}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
	}

	for i, seq := range received {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestConnRegistryReplacesStaleConnection(t *testing.T) {
	server1, client1 := net.Pipe()
	defer client1.Close()
	server2, client2 := net.Pipe()
	defer client2.Close()
	defer server2.Close()

	reg := NewRegistry()
	first := NewWorkerConn("worker-1", server1, 16)
	reg.Add(first)

	second := NewWorkerConn("worker-1", server2, 16)
	reg.Add(second)

	got, ok := reg.Get("worker-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestSendAfterCloseFails(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn := NewWorkerConn("worker-1", server, 1)
	conn.Close()

	err := conn.Send(&Frame{Kind: KindHeartbeat})
	require.Error(t, err)
}
