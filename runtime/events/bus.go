// Package events provides a lightweight pub/sub event bus for call and turn
// observability. Metrics and tracing subscribe to it; the session publishes.
package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the number of events queued before Publish drops.
const DefaultBufferSize = 1024

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	id       uint64
	listener Listener
}

// EventBus manages event distribution to listeners. Events are delivered
// by a single worker goroutine in publish order; Publish never blocks.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]subscription
	globalListeners []subscription
	nextID          uint64

	queue     chan *Event
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

// NewEventBus creates a new event bus and starts its worker.
func NewEventBus() *EventBus {
	return NewEventBusWithBuffer(DefaultBufferSize)
}

// NewEventBusWithBuffer creates a bus whose queue holds size events.
func NewEventBusWithBuffer(size int) *EventBus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	eb := &EventBus{
		listeners: make(map[EventType][]subscription),
		queue:     make(chan *Event, size),
		done:      make(chan struct{}),
	}
	go eb.run()
	return eb
}

// Subscribe registers a listener for a specific event type and returns a
// function that removes it.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = remove(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types and returns a
// function that removes it.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = remove(eb.globalListeners, id)
	}
}

// Publish queues an event for delivery. It returns false if the bus is
// closed or the queue is full; a full queue increments Dropped.
func (eb *EventBus) Publish(event *Event) (queued bool) {
	if event == nil || eb.closed.Load() {
		return false
	}
	defer func() {
		// Close raced with the closed check above.
		if recover() != nil {
			queued = false
		}
	}()

	select {
	case eb.queue <- event:
		return true
	default:
		eb.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Close stops accepting events, delivers everything already queued, and
// waits for the worker to exit. Safe to call multiple times.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.queue)
	})
	<-eb.done
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

func (eb *EventBus) run() {
	defer close(eb.done)
	for event := range eb.queue {
		eb.dispatch(event)
	}
}

func (eb *EventBus) dispatch(event *Event) {
	eb.mu.RLock()
	specific := make([]subscription, len(eb.listeners[event.Type]))
	copy(specific, eb.listeners[event.Type])
	global := make([]subscription, len(eb.globalListeners))
	copy(global, eb.globalListeners)
	eb.mu.RUnlock()

	for _, sub := range specific {
		safeInvoke(sub.listener, event)
	}
	for _, sub := range global {
		safeInvoke(sub.listener, event)
	}
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
