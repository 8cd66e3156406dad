// Package loop runs tasks one at a time, in submission order, on a single
// goroutine. It is the cooperative scheduler editor callbacks, coalescer
// flushes and transport completions share.
package loop

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// Loop is a FIFO task queue drained by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool
	stopped chan struct{}
	log     pslog.Logger
}

// New constructs an idle loop.
func New(logger pslog.Logger) *Loop {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		log:     logger,
	}
}

// Defer queues task to run after the current task and every task queued
// before it. Safe to call from any goroutine; never blocks. Tasks queued
// after Run has returned are dropped.
func (l *Loop) Defer(task func()) {
	if l == nil || task == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Trace("loop task dropped", "reason", "closed")
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do queues task and waits until it has run. It returns ErrLoopClosed when
// the loop stops before reaching task.
func (l *Loop) Do(ctx context.Context, task func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return schema.ErrLoopClosed
	}
	l.Defer(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// stopped closes after the last task, so a finished task is visible here.
		select {
		case <-done:
			return nil
		default:
			return schema.ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is canceled. Tasks still queued when ctx
// ends are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop already running")
	}
	if l.closed {
		l.mu.Unlock()
		return schema.ErrLoopClosed
	}
	l.running = true
	l.mu.Unlock()

	l.log.Debug("loop start")
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.running = false
		dropped := len(l.queue)
		l.queue = nil
		close(l.stopped)
		l.mu.Unlock()
		l.log.Debug("loop stop", "dropped", dropped)
	}()

	for {
		task, ok := l.next()
		if ok {
			l.run(task)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panic", "panic", fmt.Sprint(r))
		}
	}()
	task()
}
