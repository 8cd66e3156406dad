package core

import (
	"context"
	"net/http"

	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// CoalescerDeps captures the collaborators of a Coalescer. Scheduler and
// Transport are required.
type CoalescerDeps struct {
	Scheduler Scheduler
	Transport Transport
	Reporter  *FailureReporter
	// OnLocked runs when the daemon answers 423, meaning the file's
	// directory is not enabled.
	OnLocked func(event schema.MergedEvent)
	// OnFlush observes every merged event as it is dispatched.
	OnFlush func(event schema.MergedEvent)
	Logger  pslog.Logger
}

// Coalescer batches editor activity into one outbound event per burst.
//
// Editors fire several change and selection callbacks for what is one
// keystroke, in no reliable order. Submit queues each observation and, on
// the first one of a burst, defers a flush onto the scheduler. The flush
// sends the last observation, promoted to an edit when any observation in
// the burst was an edit.
//
// A Coalescer must only be used from the scheduler's goroutine.
type Coalescer struct {
	scheduler Scheduler
	transport Transport
	reporter  *FailureReporter
	onLocked  func(schema.MergedEvent)
	onFlush   func(schema.MergedEvent)
	log       pslog.Logger

	pending   []schema.ActivityEvent
	scheduled bool
}

// NewCoalescer constructs a coalescer with an empty queue.
func NewCoalescer(deps CoalescerDeps) *Coalescer {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Coalescer{
		scheduler: deps.Scheduler,
		transport: deps.Transport,
		reporter:  deps.Reporter,
		onLocked:  deps.OnLocked,
		onFlush:   deps.OnFlush,
		log:       logger,
	}
}

// Submit queues event for the current burst.
func (c *Coalescer) Submit(event schema.ActivityEvent) {
	c.pending = append(c.pending, event.Clone())
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.scheduler.Defer(c.flush)
}

// Pending returns the number of events waiting for the next flush.
func (c *Coalescer) Pending() int {
	return len(c.pending)
}

func (c *Coalescer) flush() {
	if len(c.pending) == 0 {
		c.scheduled = false
		return
	}
	burst := len(c.pending)
	event := Merge(c.pending)
	c.pending = nil
	c.scheduled = false

	c.log.Trace("event flush", "action", event.Action, "file", event.Filename, "cursor", event.CursorOffset(), "burst", burst)
	c.transport.Send(schema.EndpointEvent, event, func(result schema.Result) {
		c.handleResult(event, result)
	})
	c.notifyFlush(event)
}

func (c *Coalescer) notifyFlush(event schema.MergedEvent) {
	if c.onFlush == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("flush observer panic", "panic", r)
		}
	}()
	c.onFlush(event)
}

func (c *Coalescer) handleResult(event schema.MergedEvent, result schema.Result) {
	if result.Err == nil && result.Response.StatusCode == http.StatusLocked {
		c.log.Debug("event path not enabled", "file", event.Filename)
		if c.onLocked != nil {
			c.onLocked(event)
		}
		return
	}
	err := classifyResult(schema.EndpointEvent, result)
	if err == nil {
		return
	}
	if c.reporter != nil {
		c.reporter.Report(err)
		return
	}
	c.log.Debug("event send failed", "err", err)
}

// Merge collapses a burst into the event to dispatch: a copy of the last
// event, with its action promoted to edit when any event in the burst is an
// edit. Merge returns the zero event for an empty burst.
func Merge(burst []schema.ActivityEvent) schema.MergedEvent {
	if len(burst) == 0 {
		return schema.MergedEvent{}
	}
	event := burst[len(burst)-1].Clone()
	for _, ev := range burst {
		if ev.Action == schema.ActionEdit {
			event.Action = schema.ActionEdit
			break
		}
	}
	return event
}
