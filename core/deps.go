package core

import (
	"context"

	"pkt.systems/kitelink/schema"
)

// Scheduler runs deferred work on the single goroutine that owns the
// coalescer. A task deferred while another task runs must execute after it
// and after every task already queued.
type Scheduler interface {
	Defer(task func())
}

// Transport delivers a payload to a daemon endpoint without blocking the
// caller. done runs on the scheduler once the round trip finishes.
type Transport interface {
	Send(endpoint schema.Endpoint, payload any, done func(schema.Result))
}

// Poster performs one blocking daemon round trip.
type Poster interface {
	Post(ctx context.Context, endpoint schema.Endpoint, payload any) (schema.Response, error)
}

// MetricsSink receives analytics events.
type MetricsSink interface {
	Track(name string, props map[string]any)
}
