// Package bus provides the in-process change notification bus for the
// outbox queue.
//
// UI layers subscribe to react to queue mutations without polling the
// store. Delivery is synchronous, best-effort, and in-process only: there
// is no buffering or replay, so a listener subscribed after an event fired
// will not see it. A panicking listener is recovered and logged, never
// allowed to break delivery to the others.
//
// The bus is an injectable value, constructed once at startup and passed
// to the components that publish or subscribe. There is no package-level
// singleton, so tests and multiple queue instances each get their own.
package bus

import (
	"log"
	"os"
	"sync"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// EventType classifies a queue change.
type EventType string

const (
	// EventQueueChanged is the generic "something changed" broadcast.
	EventQueueChanged EventType = "queue_changed"
	// EventItemAdded means a new item was appended to the queue.
	EventItemAdded EventType = "item_added"
	// EventItemUpdated means an existing item was coalesced into or rewritten.
	EventItemUpdated EventType = "item_updated"
	// EventItemProcessed means the drain worker finished an item
	// (succeeded or failed).
	EventItemProcessed EventType = "item_processed"
)

// Event describes one queue change.
type Event struct {
	Type EventType

	// UID identifies the affected item, when the change concerns one.
	UID string

	// Entity and JobID locate the affected entity, when known.
	Entity outbox.Entity
	JobID  int64

	// Status is the item's status after the change, when known.
	Status outbox.Status
}

// Listener receives queue change events.
type Listener func(Event)

// Bus broadcasts queue change events to subscribed listeners.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	logger    *log.Logger
}

// New creates a bus. If logger is nil, a default stderr logger is used.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}
	return &Bus{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// NotifyQueueChanged broadcasts a generic queue change.
func (b *Bus) NotifyQueueChanged() {
	b.publish(Event{Type: EventQueueChanged})
}

// NotifyItemAdded broadcasts that item was appended.
func (b *Bus) NotifyItemAdded(item outbox.Item) {
	b.publish(eventFor(EventItemAdded, item))
}

// NotifyItemUpdated broadcasts that item was coalesced into or rewritten.
func (b *Bus) NotifyItemUpdated(item outbox.Item) {
	b.publish(eventFor(EventItemUpdated, item))
}

// NotifyItemProcessed broadcasts that the drain worker finished item.
func (b *Bus) NotifyItemProcessed(item outbox.Item) {
	b.publish(eventFor(EventItemProcessed, item))
}

func eventFor(typ EventType, item outbox.Item) Event {
	return Event{
		Type:   typ,
		UID:    item.UID,
		Entity: item.Payload.Entity,
		JobID:  item.Payload.JobID,
		Status: item.Status,
	}
}

// publish delivers the event synchronously to every listener. Listener
// panics are isolated per-listener; the bus itself never panics.
func (b *Bus) publish(event Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(fn, event)
	}
}

func (b *Bus) deliver(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("listener panicked on %s event: %v", event.Type, r)
		}
	}()
	fn(event)
}
