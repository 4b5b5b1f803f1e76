package eventing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventing: nil event")
	// ErrInvalidEventType is returned when the event type cannot be determined.
	ErrInvalidEventType = errors.New("eventing: invalid event type")
)

// InMemoryBus is an in-process event bus. Handlers run synchronously in
// subscription order; every handler runs even when an earlier one fails.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]EventHandler)}
}

// Publish wraps the event in an envelope and dispatches it to all handlers of its type.
// The envelope is available to handlers through EnvelopeFromContext.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	if _, ok := EnvelopeFromContext(ctx); !ok {
		env, err := BuildEnvelope(event, MetaFromContext(ctx))
		if err != nil {
			return err
		}
		ctx = WithEnvelope(ctx, env)
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// ProcessedStore records which consumers have handled an event.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers handler for a named consumer. With a store, an event the
// consumer already handled is skipped, and an event is recorded only after the
// handler succeeds so a failed delivery is retried on redelivery.
func Subscribe(bus EventBus, eventType, consumer string, handler EventHandler, store ProcessedStore) {
	if store != nil && consumer != "" {
		handler = once(consumer, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

func once(consumer string, next EventHandler, store ProcessedStore) EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return next(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumer)
		if err != nil {
			return fmt.Errorf("eventing: %s lookup %s: %w", consumer, env.EventID, err)
		}
		if done {
			return nil
		}
		if err := next(ctx, event); err != nil {
			return err
		}
		if err := store.MarkProcessed(ctx, env.EventID, consumer); err != nil {
			return fmt.Errorf("eventing: %s mark %s: %w", consumer, env.EventID, err)
		}
		return nil
	}
}

// EventType returns the fully-qualified type name for an event instance.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf returns the fully-qualified type name for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// Typed adapts a handler of a concrete event type. Events of other types are ignored.
func Typed[T any](handler func(ctx context.Context, event T) error) EventHandler {
	return func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case T:
			return handler(ctx, e)
		case *T:
			if e == nil {
				return nil
			}
			return handler(ctx, *e)
		default:
			return nil
		}
	}
}
