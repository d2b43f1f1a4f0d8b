package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gateway.", 10)
	defer unsub()

	b.Publish(Event{Kind: "gateway.new_message", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "gateway.new_message" {
			t.Errorf("got kind %q, want gateway.new_message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("directory.", 10)
	defer unsub()

	b.Publish(Event{Kind: "gateway.new_message"})
	b.Publish(Event{Kind: "directory.updated"})

	select {
	case evt := <-ch:
		if evt.Kind != "directory.updated" {
			t.Errorf("got kind %q, want directory.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the gateway event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gateway.", 10)
	unsub()

	b.Publish(Event{Kind: "gateway.connected"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("thread.", 1)
	defer unsub()

	// Fill buffer; second publish is dropped rather than blocking.
	b.Publish(Event{Kind: "thread.appended"})
	b.Publish(Event{Kind: "thread.typing_changed"})

	evt := <-ch
	if evt.Kind != "thread.appended" {
		t.Errorf("got %q, want thread.appended", evt.Kind)
	}
}
