// Package bus provides a synchronous in-process publish/subscribe event bus
// with a bounded event history.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one published event retained in the bus history.
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives a published event. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is logged and does not stop
// delivery to the remaining handlers.
type Handler func(Event)

// DefaultHistorySize bounds the retained event history when no size is given.
const DefaultHistorySize = 200

// Bus is a synchronous event bus. Delivery order within one Publish call is
// subscription order; events from a single publisher are observed FIFO.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]Handler
	wildcard    []Handler
	history     []Event
	maxHistory  int
	logger      *slog.Logger
}

// New creates a bus with the given history bound. maxHistory <= 0 selects
// DefaultHistorySize.
func New(maxHistory int, logger *slog.Logger) *Bus {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]Handler),
		maxHistory:  maxHistory,
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for a single event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
}

// SubscribeAll registers a handler for every event type. Wildcard handlers
// run after type-specific handlers within one publish.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, h)
}

// Publish appends the event to history and delivers it synchronously to all
// matching handlers on the caller's goroutine.
func (b *Bus) Publish(eventType string, data map[string]any, source string) {
	ev := Event{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	handlers := make([]Handler, 0, len(b.subscribers[eventType])+len(b.wildcard))
	handlers = append(handlers, b.subscribers[eventType]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

// dispatch runs one handler with panic isolation.
func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event handler panicked",
				"event_type", ev.Type,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	h(ev)
}

// History returns a copy of the retained events, oldest first. limit <= 0
// returns the full history.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// SubscriberCount returns the number of handlers registered for a type,
// excluding wildcard handlers.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[eventType])
}
