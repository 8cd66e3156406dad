package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/kitelink/internal/logx"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// Stream event types.
const (
	EventNotification = "notification"
	EventClosed       = "closed"
)

// StreamEvent is sent to notification stream clients.
type StreamEvent struct {
	Seq          uint64               `json:"seq"`
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Notification *schema.Notification `json:"notification,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Hub broadcasts notification events to stream subscribers and keeps a
// bounded history for replay.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	now         func() time.Time
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 100
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		now:         time.Now,
		log:         logger,
	}
}

// Notify implements readiness.Notifier.
func (h *Hub) Notify(n schema.Notification) {
	logx.WithNotification(h.log, n).Trace("hub notification")
	note := n
	h.publish(StreamEvent{Type: EventNotification, ID: n.ID, Notification: &note})
}

// Closed tells subscribers that notification id is no longer active.
func (h *Hub) Closed(id string) {
	h.log.Trace("hub notification closed", "notification", id)
	h.publish(StreamEvent{Type: EventClosed, ID: id})
}

// Subscribe registers a subscriber and returns its channel, an unsubscribe
// func, the current seq and a copy of the history.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 64)
	h.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), h.history...)
	seq := h.seq
	h.log.Debug("hub subscribe", "subs", len(h.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	event.Timestamp = h.now()
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	subs := make([]chan StreamEvent, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}
