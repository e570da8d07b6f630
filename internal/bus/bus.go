package bus

import (
	"sync"
	"time"
)

// Event is a lifecycle or message notification published by the messaging client.
type Event struct {
	Name      string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// MessageBus fans out client events to subscribers such as the connection
// tracker, the webhook forwarder and websocket listeners.
type MessageBus struct {
	subscribers map[string]EventHandler
	order       []string
	subMu       sync.RWMutex
}

func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id, replacing any previous one.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	if _, exists := mb.subscribers[id]; !exists {
		mb.order = append(mb.order, id)
	}
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	if _, exists := mb.subscribers[id]; !exists {
		return
	}
	delete(mb.subscribers, id)
	for i, v := range mb.order {
		if v == id {
			mb.order = append(mb.order[:i], mb.order[i+1:]...)
			break
		}
	}
}

// Broadcast delivers an event to all subscribers in subscription order.
// A zero Timestamp is stamped with the current time.
func (mb *MessageBus) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	mb.subMu.RLock()
	handlers := make([]EventHandler, 0, len(mb.order))
	for _, id := range mb.order {
		handlers = append(handlers, mb.subscribers[id])
	}
	mb.subMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Publish is shorthand for Broadcast with a name and payload.
func (mb *MessageBus) Publish(name string, payload any) {
	mb.Broadcast(Event{Name: name, Payload: payload})
}

// SubscriberCount reports how many subscribers are registered.
func (mb *MessageBus) SubscriberCount() int {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	return len(mb.subscribers)
}
