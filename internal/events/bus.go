/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationExpired   EventType = "reservation.expired"
	EventReservationConverted EventType = "reservation.converted"

	EventOrderPlaced     EventType = "order.placed"
	EventOrderCancelled  EventType = "order.cancelled"
	EventOrderDispatched EventType = "order.dispatched"
	EventOrderDelivered  EventType = "order.delivered"

	EventWindowCreated EventType = "window.created"

	// Cache invalidation events
	EventProductUpdated  EventType = "cache.product_updated"
	EventCustomerUpdated EventType = "cache.customer_updated"
)

// LifecycleEvents lists every event a booking UI or audit sink cares about.
var LifecycleEvents = []EventType{
	EventReservationCreated,
	EventReservationConfirmed,
	EventReservationCancelled,
	EventReservationExpired,
	EventReservationConverted,
	EventOrderPlaced,
	EventOrderCancelled,
	EventOrderDispatched,
	EventOrderDelivered,
	EventWindowCreated,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the write side of a bus. Services depend on this rather than a
// concrete backend.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, 8)
}

// SubscribeBuffered registers a subscriber with a custom channel size.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
