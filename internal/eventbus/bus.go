package eventbus

import (
	"context"
	"sync"

	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// Topic selects which events a subscriber receives.
type Topic string

const (
	// TopicEvents carries merged editor events as they are flushed.
	TopicEvents Topic = "events"
	// TopicNotifications carries readiness notifications.
	TopicNotifications Topic = "notifications"
)

// Event is one published item.
type Event struct {
	Topic        Topic
	Flush        schema.MergedEvent
	Notification schema.Notification
}

// Bus fans events out to per-topic subscribers without blocking publishers.
type Bus struct {
	mu    sync.Mutex
	subs  map[Topic]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[Topic]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the topic and returns a channel + cancel.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	topicSubs := b.subs[topic]
	if topicSubs == nil {
		topicSubs = make(map[chan Event]struct{})
		b.subs[topic] = topicSubs
	}
	topicSubs[ch] = struct{}{}
	count := len(topicSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("topic", topic).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[topic]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("topic", topic).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnFlush publishes a merged event.
func (b *Bus) OnFlush(event schema.MergedEvent) {
	b.publish(Event{Topic: TopicEvents, Flush: event.Clone()})
}

// Notify publishes a notification.
func (b *Bus) Notify(n schema.Notification) {
	b.publish(Event{Topic: TopicNotifications, Notification: n})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	topicSubs := b.subs[event.Topic]
	if len(topicSubs) == 0 {
		return
	}
	// Sends happen under mu so cancel cannot close a channel mid-send.
	dropped := 0
	for sub := range topicSubs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("topic", event.Topic).Trace("eventbus dropped", "count", dropped)
	}
}
