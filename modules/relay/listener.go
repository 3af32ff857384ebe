package relay

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Listener is a Sink backed by an HTTP response. Chunks are queued by Write
// and written out by Serve on the request's goroutine, so a slow client never
// holds up the relay loop.
type Listener struct {
	sync.Mutex
	id     string
	remote string
	queue  chan []byte
	done   chan struct{}
	closed bool
}

func NewListener(remote string, queueSize int) *Listener {
	if queueSize <= 0 {
		queueSize = defaultListenerQueueSize
	}
	return &Listener{
		id:     uuid.NewString(),
		remote: remote,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (l *Listener) ID() string { return l.id }

// Write queues chunk without blocking.
func (l *Listener) Write(chunk []byte) error {
	l.Lock()
	defer l.Unlock()

	if l.closed {
		return errListenerClosed
	}

	select {
	case l.queue <- chunk:
		return nil
	default:
		return errListenerLagging
	}
}

// Close ends the listener's response. It is safe to call more than once.
func (l *Listener) Close() error {
	l.Lock()
	defer l.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}

	return nil
}

// Done is closed once the listener has been closed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Serve copies queued chunks to w until ctx is done, the listener is closed
// or a write fails. Each chunk is flushed so players get it immediately.
func (l *Listener) Serve(ctx context.Context, w io.Writer) error {
	var rc *http.ResponseController
	if rw, ok := w.(http.ResponseWriter); ok {
		rc = http.NewResponseController(rw)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case chunk := <-l.queue:
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			if rc != nil {
				// Writers that cannot flush still deliver on their own schedule.
				_ = rc.Flush()
			}
		}
	}
}
