package supervisor

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of report lifecycle event.
type EventType string

const (
	EventReportStart   EventType = "report_start"
	EventAttemptFailed EventType = "attempt_failed"
	EventBackoff       EventType = "backoff"
	EventGenerated     EventType = "generated"
	EventFailed        EventType = "failed"
	EventReportDone    EventType = "report_done"
)

// Event is published for every step of a report request. It never carries
// prompt or report text.
type Event struct {
	Type        EventType `json:"type"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model,omitempty"`
	ChipID      string    `json:"chip_id,omitempty"`
	RecordCount int       `json:"record_count,omitempty"`
	Attempt     int       `json:"attempt"`
	Kind        Kind      `json:"kind,omitempty"`
	WaitMs      int64     `json:"wait_ms,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Status      int       `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// EventBus fans events out to SSE subscribers. Publishing never blocks; when
// a buffer is full the event is dropped.
type EventBus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewEventBus creates a new event bus with the specified buffer size.
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}
	go eb.forward()
	return eb
}

func (eb *EventBus) forward() {
	for {
		select {
		case event := <-eb.events:
			eb.mu.RLock()
			for ch := range eb.subscribers {
				select {
				case ch <- event:
				default:
				}
			}
			eb.mu.RUnlock()
		case <-eb.shutdown:
			return
		}
	}
}

// Publish queues an event for delivery.
func (eb *EventBus) Publish(event Event) {
	select {
	case <-eb.shutdown:
		return
	default:
	}
	select {
	case eb.events <- event:
	default:
	}
}

// Subscribe creates a new subscription channel.
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	if _, exists := eb.subscribers[ch]; exists {
		delete(eb.subscribers, ch)
		close(ch)
	}
	eb.mu.Unlock()
}

// Shutdown stops forwarding and closes every subscriber channel.
func (eb *EventBus) Shutdown() {
	eb.once.Do(func() {
		close(eb.shutdown)

		eb.mu.Lock()
		for ch := range eb.subscribers {
			close(ch)
		}
		eb.subscribers = make(map[chan Event]struct{})
		eb.mu.Unlock()
	})
}

// FormatSSEEvent formats an event as a Server-Sent Events frame.
func FormatSSEEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n", nil
}
