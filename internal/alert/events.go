// Package alert owns the emergency alert lifecycle: creation, the status
// state machine, and the outbound event stream other components subscribe to.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/util"
)

// Subscriber receives engine events. Subscribers are invoked synchronously in
// registration order; a slow subscriber delays the ones after it, so handlers
// that do real work should hand off to their own goroutine.
type Subscriber func(ctx context.Context, event models.Event)

// EventBus fans engine events out to registered subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a subscriber for all engine events. There is no
// unsubscribe; subscriptions live for the lifetime of the engine.
func (b *EventBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
	slog.Debug("EventBus subscriber registered", "count", len(b.subscribers))
}

// Publish delivers an event to every subscriber in registration order. A
// panicking subscriber is isolated so it cannot take down the alert path.
func (b *EventBus) Publish(ctx context.Context, event models.Event) {
	if event.ID == "" {
		event.ID = util.GenerateEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *EventBus) deliver(ctx context.Context, sub Subscriber, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("EventBus subscriber panicked", "panic", r, "eventType", event.Type, "alertID", event.AlertID)
		}
	}()
	sub(ctx, event)
}
