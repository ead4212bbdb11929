// Package bus fans delegation lifecycle events out to subscribers:
// the WebSocket gateway, the Redis mirror, and anything else that
// registers a handler.
package bus

import (
	"sync"
	"time"
)

// Event is one lifecycle notification. Name is a pkg/protocol Event*
// constant; Payload is marshalled as-is onto outbound frames.
type Event struct {
	Name    string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	At      time.Time              `json:"at"`
}

// EventHandler receives broadcast events. Handlers must not block; slow
// consumers buffer internally or drop.
type EventHandler func(Event)

// EventBus broadcasts events to registered subscribers.
type EventBus struct {
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

func New() *EventBus {
	return &EventBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id. Re-subscribing with
// the same id replaces the previous handler.
func (b *EventBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (b *EventBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, id)
}

// Publish stamps the event and delivers it to every subscriber.
func (b *EventBus) Publish(name string, payload map[string]interface{}) {
	b.Broadcast(Event{Name: name, Payload: payload, At: time.Now().UTC()})
}

// Broadcast sends an event to all subscribers.
func (b *EventBus) Broadcast(event Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subscribers {
		handler(event)
	}
}

// SubscriberCount reports how many subscribers are registered.
func (b *EventBus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}
