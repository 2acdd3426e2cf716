package stream

import (
	"encoding/json"
	"testing"
	"time"
)

type confirmationEvent struct {
	ID string `json:"confirmationId"`
}

func (confirmationEvent) EventType() string { return "confirmation.created" }

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent("refresh", map[string]string{"id": "123"})
	if evt.Type != "refresh" || evt.At == "" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["id"] != "123" {
		t.Fatalf("expected id=123, got %q", payload["id"])
	}
}

func TestPublishIsScopedToUser(t *testing.T) {
	t.Parallel()

	h := NewHub()
	alice := h.Subscribe("alice", 1)
	bob := h.Subscribe("bob", 1)
	defer h.Unsubscribe("bob", bob)

	h.Publish("alice", confirmationEvent{ID: "c-1"})
	select {
	case evt := <-alice:
		if evt.Type != "confirmation.created" {
			t.Fatalf("expected typed event, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case evt := <-bob:
		t.Fatalf("bob received alice's event %+v", evt)
	default:
	}

	h.Unsubscribe("alice", alice)
	// Must not panic on repeated calls.
	h.Unsubscribe("alice", alice)
	if h.Subscribers("alice") != 0 || h.Subscribers("bob") != 1 {
		t.Fatal("unexpected subscriber counts")
	}
}

func TestPublishWrapsPlainPayloads(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("u", 2)
	defer h.Unsubscribe("u", ch)
	h.Publish("u", map[string]int{"n": 1})
	h.Publish("u", NewEvent("ready", nil))
	if evt := <-ch; evt.Type != "message" {
		t.Fatalf("expected wrapped message, got %q", evt.Type)
	}
	if evt := <-ch; evt.Type != "ready" {
		t.Fatalf("expected event passed through, got %q", evt.Type)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("u", 1)
	defer h.Unsubscribe("u", ch)

	h.Publish("u", NewEvent("first", nil))
	h.Publish("u", NewEvent("second", nil))

	select {
	case evt := <-ch:
		if evt.Type != "first" {
			t.Fatalf("expected first event to remain in buffer, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first event")
	}
	select {
	case evt := <-ch:
		t.Fatalf("did not expect second buffered event, got %q", evt.Type)
	default:
	}
}

func TestSubscribeUsesDefaultBuffer(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("u", 0)
	defer h.Unsubscribe("u", ch)
	if cap(ch) != 32 {
		t.Fatalf("expected default buffer 32, got %d", cap(ch))
	}
}
