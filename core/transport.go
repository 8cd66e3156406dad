package core

import (
	"context"
	"fmt"

	"pkt.systems/kitelink/schema"
)

// TransportErrorKind classifies daemon round-trip failures.
type TransportErrorKind string

const (
	// TransportErrorConnect means the daemon could not be reached.
	TransportErrorConnect TransportErrorKind = "connect"
	// TransportErrorStatus means the daemon answered with a non-2xx status.
	TransportErrorStatus TransportErrorKind = "status"
	// TransportErrorPayload means the request was rejected before sending.
	TransportErrorPayload TransportErrorKind = "payload"
)

// TransportError wraps a failed daemon round trip with a stable class.
type TransportError struct {
	Kind       TransportErrorKind
	Endpoint   schema.Endpoint
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d", e.Kind, e.Endpoint, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s failed", e.Kind, e.Endpoint)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type asyncTransport struct {
	ctx       context.Context
	poster    Poster
	scheduler Scheduler
}

// NewAsyncTransport runs each Post on its own goroutine and defers the
// completion back onto scheduler, so done observes the same single-threaded
// view of state as the code that called Send.
func NewAsyncTransport(ctx context.Context, poster Poster, scheduler Scheduler) Transport {
	if ctx == nil {
		ctx = context.Background()
	}
	return &asyncTransport{ctx: ctx, poster: poster, scheduler: scheduler}
}

func (t *asyncTransport) Send(endpoint schema.Endpoint, payload any, done func(schema.Result)) {
	go func() {
		resp, err := t.poster.Post(t.ctx, endpoint, payload)
		result := schema.Result{Response: resp, Err: err}
		if done == nil {
			return
		}
		t.scheduler.Defer(func() { done(result) })
	}()
}
