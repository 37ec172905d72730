package eventbus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := New(Config{})
	sub := bus.Subscribe("DEVICE_STATUS_CHANGE")
	defer sub.Close()

	bus.Publish("DEVICE_STATUS_CHANGE", map[string]string{"device_id": "d1"})

	select {
	case ev := <-sub.C():
		if ev.Kind != "DEVICE_STATUS_CHANGE" {
			t.Fatalf("Kind = %q, want DEVICE_STATUS_CHANGE", ev.Kind)
		}
		var payload map[string]string
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload["device_id"] != "d1" {
			t.Fatalf("payload device_id = %q, want d1", payload["device_id"])
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never received the published event")
	}
}

func TestSubscribeFiltersByTopic(t *testing.T) {
	bus := New(Config{})
	sub := bus.Subscribe("BATCH_CREATED")
	defer sub.Close()

	bus.Publish("DEVICE_STATUS_CHANGE", "ignored")
	bus.Publish("BATCH_CREATED", "wanted")

	select {
	case ev := <-sub.C():
		if ev.Kind != "BATCH_CREATED" {
			t.Fatalf("Kind = %q, want BATCH_CREATED (filtered subscriber should never see other kinds)", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never received the matching event")
	}

	select {
	case ev := <-sub.C():
		t.Fatalf("received unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeWithNoTopicsReceivesEverything(t *testing.T) {
	bus := New(Config{})
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish("A", 1)
	bus.Publish("B", 2)

	for _, want := range []string{"A", "B"} {
		select {
		case ev := <-sub.C():
			if ev.Kind != want {
				t.Fatalf("Kind = %q, want %q", ev.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %q", want)
		}
	}
}

func TestFullQueueDropsOldestRatherThanBlocking(t *testing.T) {
	bus := New(Config{SubQueueSize: 2})
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish("A", 1)
	bus.Publish("B", 2)
	bus.Publish("C", 3) // queue is full at this point; oldest (A) must be dropped

	var kinds []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C():
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 buffered events, got %d", i)
		}
	}
	if kinds[0] != "B" || kinds[1] != "C" {
		t.Fatalf("kinds = %v, want [B C] (A should have been dropped)", kinds)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New(Config{})
	sub := bus.Subscribe()
	sub.Close()

	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after Close", bus.SubscriberCount())
	}
	// Publishing after every subscriber has closed must not panic.
	bus.Publish("A", 1)
}

func TestHistoryReturnsOldestFirstAndRespectsLimit(t *testing.T) {
	bus := New(Config{HistorySize: 3})
	bus.Publish("A", 1)
	bus.Publish("B", 2)
	bus.Publish("C", 3)
	bus.Publish("D", 4) // evicts A from the ring

	all := bus.History(0)
	if len(all) != 3 {
		t.Fatalf("History(0) len = %d, want 3", len(all))
	}
	wantKinds := []string{"B", "C", "D"}
	for i, ev := range all {
		if ev.Kind != wantKinds[i] {
			t.Fatalf("History()[%d].Kind = %q, want %q", i, ev.Kind, wantKinds[i])
		}
	}

	limited := bus.History(1)
	if len(limited) != 1 || limited[0].Kind != "D" {
		t.Fatalf("History(1) = %+v, want only the most recent event D", limited)
	}
}

func TestSubscriberCount(t *testing.T) {
	bus := New(Config{})
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers initially")
	}
	s1 := bus.Subscribe()
	s2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", bus.SubscriberCount())
	}
	s1.Close()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1 after one Close", bus.SubscriberCount())
	}
	s2.Close()
}
