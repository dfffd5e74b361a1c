package sessions

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightwell-labs/companymcp/internal/jsonrpc"
)

func TestSessionCloseFinalizesExactlyOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sess := New("tok-1", func(id string) {
		assert.Equal(t, "tok-1", id)
		calls.Add(1)
	})

	require.True(t, sess.Open())

	sess.Close()
	sess.Close()
	sess.Close()

	assert.False(t, sess.Open())
	assert.Equal(t, int32(1), calls.Load())

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
}

func TestSessionConcurrentCloseFinalizesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sess := New("tok-1", func(string) { calls.Add(1) })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionAttachStreamSingle(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)

	_, err := sess.AttachStream()
	require.NoError(t, err)

	_, err = sess.AttachStream()
	assert.ErrorIs(t, err, ErrStreamAttached)
}

func TestSessionAttachStreamAfterClose(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)
	sess.Close()

	_, err := sess.AttachStream()
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionPublishWithoutStream(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)
	err := sess.Publish(jsonrpc.Message(`{"jsonrpc":"2.0","method":"x"}`))
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestSessionPublishOrdering(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)
	stream, err := sess.AttachStream()
	require.NoError(t, err)

	msgs := []jsonrpc.Message{
		jsonrpc.Message(`{"seq":1}`),
		jsonrpc.Message(`{"seq":2}`),
		jsonrpc.Message(`{"seq":3}`),
	}
	for _, m := range msgs {
		require.NoError(t, sess.Publish(m))
	}

	for i, want := range msgs {
		got := <-stream
		assert.Equal(t, want, got, "message %d out of order", i)
	}
}

func TestSessionPublishAfterCloseIsReported(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)
	_, err := sess.AttachStream()
	require.NoError(t, err)

	sess.Close()

	err = sess.Publish(jsonrpc.Message(`{}`))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionPublishRacingCloseDoesNotBlock(t *testing.T) {
	t.Parallel()

	sess := New("tok-1", nil)
	_, err := sess.AttachStream()
	require.NoError(t, err)

	// Fill the buffer so the next Publish would block on the channel, then
	// close: the send must resolve via the done signal, not hang.
	for range streamBuffer {
		require.NoError(t, sess.Publish(jsonrpc.Message(`{}`)))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Publish(jsonrpc.Message(`{}`)) }()
	sess.Close()

	assert.ErrorIs(t, <-done, ErrSessionClosed)
}
