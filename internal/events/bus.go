// Package events fans out view-model change notifications to live observers
// such as the server-sent event stream of the local view API.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type identifies what changed.
type Type string

const (
	SessionChanged   Type = "session_changed"
	RangeChanged     Type = "range_changed"
	DashboardUpdated Type = "dashboard_updated"
	ListUpdated      Type = "list_updated"
	PrefsChanged     Type = "prefs_changed"
	BackendHealth    Type = "backend_health"
	ActionCompleted  Type = "action_completed"
)

// Event is a single change notification. Payloads are small summaries;
// observers re-read the full view model when they need it.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	View      string    `json:"view,omitempty"`
	State     string    `json:"state,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Bus manages event publishing and subscription.
type Bus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewBus creates a bus with the specified buffer size.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}
	go b.forward()
	return b
}

func (b *Bus) forward() {
	for {
		select {
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.mu.RLock()
			for ch := range b.subscribers {
				select {
				case ch <- event:
				default:
					// Slow subscriber, drop.
				}
			}
			b.mu.RUnlock()
		case <-b.shutdown:
			return
		}
	}
}

// Publish queues an event without blocking. Events are dropped when the
// buffer is full. A nil bus ignores events.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-b.shutdown:
		return
	default:
	}
	select {
	case b.events <- event:
	default:
	}
}

// Subscribe returns a channel receiving future events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, exists := b.subscribers[ch]; exists {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Shutdown stops forwarding and closes all subscriber channels.
func (b *Bus) Shutdown() {
	b.once.Do(func() {
		close(b.shutdown)

		b.mu.Lock()
		for ch := range b.subscribers {
			close(ch)
		}
		b.subscribers = make(map[chan Event]struct{})
		b.mu.Unlock()
	})
}

// FormatSSE formats an event as a server-sent event frame.
func FormatSSE(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n", nil
}
