// Package eventbus fans out domain events to in-process subscribers
// (in this process, the websocket hub's run_status broadcast) independently of the
// durable log in internal/infrastructure/eventstore. The store is the
// source of truth; this bus is a best-effort live mirror of it.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one published notification. Type mirrors the canonical event
// vocabulary in internal/domain/event.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the concrete Event implementation used by callers that don't
// need a custom type.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string        { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any        { return e.EventPayload }

// NewEvent builds a BaseEvent stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{EventType: eventType, EventTimestamp: time.Now().UTC(), EventPayload: payload}
}

// Handler receives a dispatched event. Handlers run concurrently and a
// panic in one must not affect the others or the bus.
type Handler func(ctx context.Context, event Event)

// Bus is the subscription surface in-process transports (the websocket hub)
// consume. "*" subscribes to every event type.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus dispatches events to subscribed handlers over a buffered
// channel, running handlers concurrently and recovering panics so one bad
// subscriber can't take down dispatch for the rest.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch goroutine and returns a ready bus.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

// Publish enqueues event for dispatch. Non-blocking: if the buffer is full
// the event is dropped and logged, rather than blocking the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("event published", zap.String("type", event.Type()))
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

// Subscribe registers handler for eventType ("*" for every type).
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("handler subscribed", zap.String("event_type", eventType))
}

// Unsubscribe removes the most recently registered handler for eventType.
// Go has no function-pointer equality, so exact handler removal isn't
// possible; last-registered-first-removed is the safe default for the
// short-lived subscriptions (one per websocket connection) this bus serves.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}
	b.handlers[eventType] = handlers[:len(handlers)-1]
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Close stops dispatch after draining the channel.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	var handlers []Handler
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("handler panicked", zap.String("event_type", event.Type()), zap.Any("panic", r))
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}
