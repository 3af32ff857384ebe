package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zachfi/streamrelay/modules/relay"

// session is one upstream connection attempt.
type session struct {
	gen    uint64
	target string
	cancel context.CancelFunc
	done   chan struct{}
}

// openSession starts reading target in a new goroutine. Events are posted to
// the loop tagged with gen until the session's context is cancelled.
func (r *Relay) openSession(gen uint64, target string) *session {
	ctx, cancel := context.WithCancel(r.ctx)
	s := &session{
		gen:    gen,
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.sessionsWg.Add(1)
	go func() {
		defer r.sessionsWg.Done()
		defer close(s.done)
		r.stream(ctx, s)
	}()

	return s
}

func (r *Relay) stream(ctx context.Context, s *session) {
	ctx, span := r.tracer.Start(ctx, "upstream.session", trace.WithAttributes(
		attribute.String("url", s.target),
		attribute.Int64("session", int64(s.gen)),
	))

	var (
		err   error
		total int64
	)
	defer func() {
		span.SetAttributes(attribute.Int64("bytes", total))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	stream, openErr := r.client.Open(ctx, s.target)
	if openErr != nil {
		// Cancellation is how the relay retires a session, not a failure.
		if ctx.Err() == nil {
			err = openErr
			r.emit(ctx, s, Failed{Err: openErr})
		}
		return
	}
	defer stream.Close()

	span.SetAttributes(attribute.Int("http.status_code", stream.StatusCode))
	connected := Connected{
		StatusCode: stream.StatusCode,
		Name:       stream.Name,
		Genre:      stream.Genre,
		Bitrate:    stream.Bitrate,
	}
	if !r.emit(ctx, s, connected) {
		return
	}
	if stream.StatusCode != http.StatusOK {
		err = &StatusError{Code: stream.StatusCode}
		return
	}

	buf := make([]byte, r.cfg.ReadBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			total += int64(n)
			if !r.emit(ctx, s, Chunk{Data: chunk}) {
				return
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			err = ErrUpstreamEnded
			r.emit(ctx, s, Ended{})
			return
		default:
			if ctx.Err() != nil {
				return
			}
			err = readErr
			r.emit(ctx, s, Failed{Err: readErr})
			return
		}
	}
}

// emit hands ev to the loop. It returns false once the session is cancelled.
func (r *Relay) emit(ctx context.Context, s *session, ev Event) bool {
	select {
	case r.cmdCh <- sessionEvent{gen: s.gen, event: ev}:
		return true
	case <-ctx.Done():
		return false
	}
}
