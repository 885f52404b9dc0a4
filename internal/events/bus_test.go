package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Shutdown()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: RangeChanged, Detail: "2024-01-01..2024-01-07"})

	select {
	case got := <-sub:
		if got.Type != RangeChanged {
			t.Errorf("type = %s, want %s", got.Type, RangeChanged)
		}
		if got.Timestamp.IsZero() {
			t.Error("timestamp should be filled in")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("did not receive event within timeout")
	}
}

func TestBus_NonBlockingPublish(t *testing.T) {
	bus := NewBus(1)
	defer bus.Shutdown()

	start := time.Now()
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Type: ListUpdated})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Publish blocked for %v", elapsed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Shutdown()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestBus_Shutdown(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe()

	bus.Shutdown()
	bus.Shutdown()
	bus.Publish(Event{Type: SessionChanged})

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected closed channel after Shutdown")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("subscriber channel not closed")
	}
}

func TestBus_Nil(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: SessionChanged})
}

func TestFormatSSE(t *testing.T) {
	frame, err := FormatSSE(Event{Type: SessionChanged, State: "anonymous", Timestamp: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatalf("FormatSSE error = %v", err)
	}
	if !strings.HasPrefix(frame, "event: session_changed\ndata: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("frame = %q", frame)
	}
	line := strings.TrimSuffix(strings.SplitN(frame, "data: ", 2)[1], "\n\n")
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.State != "anonymous" {
		t.Errorf("state = %q", ev.State)
	}
}
