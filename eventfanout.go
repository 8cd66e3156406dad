package kitelink

import (
	"pkt.systems/kitelink/internal/readiness"
	"pkt.systems/kitelink/schema"
)

type notifyFanout struct {
	notifiers []readiness.Notifier
}

func (f notifyFanout) Notify(n schema.Notification) {
	for _, notifier := range f.notifiers {
		if notifier == nil {
			continue
		}
		notifier.Notify(n)
	}
}
