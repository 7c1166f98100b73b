// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package moderation

import (
	"log/slog"
	"sync"
)

// subscriberBuffer sizes each subscriber channel. Rooms drain their
// channel from a single goroutine, so bursts larger than this are
// dropped with a warning rather than blocking the publisher.
const subscriberBuffer = 100

// DropFunc observes dropped events, typically feeding a metric.
type DropFunc func()

// Bus distributes moderation events to subscribed rooms.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	onDrop DropFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnDrop registers a hook invoked whenever a subscriber misses an
// event. Must be called before the bus is shared.
func (b *Bus) OnDrop(fn DropFunc) {
	b.onDrop = fn
}

// Subscribe creates a channel receiving every published event.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to every subscriber. Delivery is best-effort:
// a subscriber with a full buffer misses the event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("moderation event dropped: subscriber buffer full",
				"event", eventName(event),
			)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func eventName(e Event) string {
	switch e.(type) {
	case Broadcast:
		return "broadcast"
	case Kick:
		return "kick"
	case DirectMessage:
		return "direct_message"
	case SendToLimbo:
		return "send_to_limbo"
	case InventoryChanged:
		return "inventory_changed"
	case ItemDropped:
		return "item_dropped"
	default:
		return "unknown"
	}
}
