package symphra

import (
	"fmt"
	"strings"
	"sync"
)

// EventHandler consumes one event. A non-nil error (or a panic) is caught
// by the bus, surfaced as a module.error event, and never prevents later
// handlers from running.
type EventHandler func(event Event) error

// Subscription is the handle returned by Subscribe and accepted by
// Unsubscribe.
type Subscription struct {
	id      uint64
	pattern string
}

// Pattern returns the pattern the subscription was registered with.
func (s *Subscription) Pattern() string { return s.pattern }

type subscriptionEntry struct {
	id      uint64
	pattern string
	handler EventHandler
}

// EventBus delivers named events to pattern-matched subscribers with
// failure isolation.
//
// Patterns are dot-delimited. A segment of "*" matches exactly one
// segment, and the whole pattern "*" matches every event; there is no
// multi-segment glob. "module.*" matches "module.started" but not
// "module.started.extra".
//
// Publication is serialized: events are delivered in the order they were
// published, and handlers registered earlier are invoked earlier. A
// handler that subscribes during its own invocation sees only subsequent
// events.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriptionEntry
	nextID uint64

	// publishMu serializes Publish calls so the bus processes events FIFO.
	publishMu sync.Mutex

	logger Logger
}

// NewEventBus creates an event bus. A nil logger is replaced with a no-op
// logger.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventBus{logger: logger}
}

// Subscribe registers a handler for events matching pattern and returns a
// handle for Unsubscribe.
func (b *EventBus) Subscribe(pattern string, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscriptionEntry{
		id:      b.nextID,
		pattern: pattern,
		handler: handler,
	})
	b.logger.Debug("Subscribed to events", "pattern", pattern, "subscription", b.nextID)
	return &Subscription{id: b.nextID, pattern: pattern}
}

// Unsubscribe removes a subscription. It is idempotent: unsubscribing a
// handle twice, or a nil handle, is a no-op.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.subs {
		if entry.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			b.logger.Debug("Unsubscribed from events", "pattern", entry.pattern, "subscription", entry.id)
			return
		}
	}
}

// Publish delivers the event to every matching handler and returns once
// all of them have been invoked. Publication is serialized, so handlers
// must not publish (or perform lifecycle operations that publish)
// synchronously from within their own invocation; hand that work to a
// goroutine instead. Handler failures are isolated: each
// failure is reported as one module.error event after the original event
// has been fully delivered, and errors raised while delivering those error
// events are only logged, never republished.
func (b *EventBus) Publish(event Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	failures := b.deliver(event)
	for _, failure := range failures {
		errEvent := NewEvent(EventTypeModuleError, event.ModuleName, map[string]any{
			"error":   failure.Error(),
			"source":  "event_handler",
			"eventId": event.ID,
			"type":    event.Type,
		})
		for _, err := range b.deliver(errEvent) {
			b.logger.Error("Handler failed while handling module.error", "error", err)
		}
	}
}

// deliver invokes every handler matching the event and returns the
// collected handler failures. The subscription snapshot is taken under the
// read lock and released before any handler runs, so handlers may
// subscribe or unsubscribe freely; new subscriptions become visible to
// subsequent events only.
func (b *EventBus) deliver(event Event) []error {
	b.mu.RLock()
	matched := make([]subscriptionEntry, 0, len(b.subs))
	for _, entry := range b.subs {
		if MatchPattern(entry.pattern, event.Type) {
			matched = append(matched, entry)
		}
	}
	b.mu.RUnlock()

	var failures []error
	for _, entry := range matched {
		if err := b.invoke(entry, event); err != nil {
			b.logger.Error("Event handler failed",
				"pattern", entry.pattern, "event", event.Type, "error", err)
			failures = append(failures, err)
		}
	}
	return failures
}

// invoke runs one handler with panic recovery.
func (b *EventBus) invoke(entry subscriptionEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %q panicked on %s: %v", entry.pattern, event.Type, r)
		}
	}()
	return entry.handler(event)
}

// SubscriberCount returns the number of live subscriptions. Useful for
// tests and debugging.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// MatchPattern reports whether a dot-delimited pattern matches an event
// type. The whole pattern "*" matches everything; otherwise the pattern
// and type must have the same number of segments and each pattern segment
// must equal the type segment or be "*".
func MatchPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	ps := strings.Split(pattern, ".")
	ts := strings.Split(eventType, ".")
	if len(ps) != len(ts) {
		return false
	}
	for i, seg := range ps {
		if seg != "*" && seg != ts[i] {
			return false
		}
	}
	return true
}
