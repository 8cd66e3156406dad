package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/kitelink/schema"
)

type fakePoster struct {
	resp schema.Response
	err  error
}

func (p fakePoster) Post(context.Context, schema.Endpoint, any) (schema.Response, error) {
	return p.resp, p.err
}

type chanScheduler struct {
	tasks chan func()
}

func (s chanScheduler) Defer(task func()) {
	s.tasks <- task
}

func TestAsyncTransportDefersCompletion(t *testing.T) {
	sched := chanScheduler{tasks: make(chan func(), 1)}
	transport := NewAsyncTransport(context.Background(), fakePoster{resp: schema.Response{StatusCode: 204}}, sched)

	var got schema.Result
	called := false
	transport.Send(schema.EndpointEvent, schema.MergedEvent{}, func(result schema.Result) {
		got = result
		called = true
	})

	select {
	case task := <-sched.tasks:
		if called {
			t.Fatalf("completion ran before the scheduler executed it")
		}
		task()
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deferred completion")
	}
	if !called || got.Response.StatusCode != 204 {
		t.Fatalf("unexpected result: called=%v result=%+v", called, got)
	}
}

func TestAsyncTransportPassesErrors(t *testing.T) {
	sched := chanScheduler{tasks: make(chan func(), 1)}
	wantErr := errors.New("refused")
	transport := NewAsyncTransport(context.Background(), fakePoster{err: wantErr}, sched)
	var got error
	transport.Send(schema.EndpointEvent, nil, func(result schema.Result) { got = result.Err })
	select {
	case task := <-sched.tasks:
		task()
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deferred completion")
	}
	if !errors.Is(got, wantErr) {
		t.Fatalf("err = %v, want %v", got, wantErr)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Kind: TransportErrorStatus, Endpoint: schema.EndpointEvent, StatusCode: 500}
	if err.Error() != "status /clientapi/editor/event: status 500" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	wrapped := &TransportError{Kind: TransportErrorConnect, Endpoint: schema.EndpointError, Err: context.DeadlineExceeded}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected unwrap to reach cause")
	}
}
