package relay

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_WriteQueuesUntilFull(t *testing.T) {
	l := NewListener("127.0.0.1:1234", 2)
	require.NoError(t, l.Write([]byte("a")))
	require.NoError(t, l.Write([]byte("b")))
	assert.ErrorIs(t, l.Write([]byte("c")), errListenerLagging)
}

func TestListener_WriteAfterClose(t *testing.T) {
	l := NewListener("", 1)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Write([]byte("a")), errListenerClosed)

	select {
	case <-l.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestListener_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewListener("", 1).ID(), NewListener("", 1).ID())
}

func TestListener_ServeWritesInOrderAndStopsOnClose(t *testing.T) {
	l := NewListener("", 8)
	rec := httptest.NewRecorder()

	require.NoError(t, l.Write([]byte("one,")))
	require.NoError(t, l.Write([]byte("two")))

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(context.Background(), rec) }()

	require.Eventually(t, func() bool { return len(l.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after close")
	}
	assert.Equal(t, "one,two", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestListener_ServeStopsOnContext(t *testing.T) {
	l := NewListener("", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Serve(ctx, &bytes.Buffer{}), context.Canceled)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestListener_ServeReturnsWriteError(t *testing.T) {
	l := NewListener("", 1)
	require.NoError(t, l.Write([]byte("x")))
	assert.EqualError(t, l.Serve(context.Background(), failingWriter{}), "connection reset")
}
