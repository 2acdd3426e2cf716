// Package stream delivers events to connected clients: a server-sent event
// writer for query responses and a per-user hub for out-of-band
// notifications.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Typed payloads name their own event type.
type Typed interface {
	EventType() string
}

func NewEvent(eventType string, data any) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// Hub fans events out to each user's subscribers. Slow subscribers drop
// events rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan Event]struct{}{}}
}

func (h *Hub) Subscribe(userID string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = map[chan Event]struct{}{}
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(userID string, ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[userID][ch]
	if exists {
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Publish delivers payload to userID's subscribers only. An Event is sent
// as is; other payloads are wrapped.
func (h *Hub) Publish(userID string, payload any) {
	var evt Event
	switch v := payload.(type) {
	case Event:
		evt = v
	case Typed:
		evt = NewEvent(v.EventType(), v)
	default:
		evt = NewEvent("message", v)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
