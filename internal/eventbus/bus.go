// Package eventbus is the in-process publish/subscribe bus for committed domain events.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"custodial-ledger/internal/core/domain"

	"github.com/rs/zerolog"
)

// DefaultHistorySize is used when New is given a non-positive size.
const DefaultHistorySize = 1000

// Handler reacts to one event. A returned error is logged and never reaches the publisher.
type Handler func(ctx context.Context, event domain.DomainEvent) error

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscription struct {
	id        SubscriptionID
	eventType domain.EventType // empty matches every type
	handler   Handler
}

// Bus fans committed events out to subscribers and keeps a bounded history.
// It is constructed and injected explicitly; there is no package-level instance.
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	nextID SubscriptionID
	subs   []subscription

	histMu  sync.Mutex
	history []domain.DomainEvent
	head    int
	count   int
}

// New creates a Bus that remembers the last historySize events.
func New(log zerolog.Logger, historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		log:     log.With().Str("component", "eventbus").Logger(),
		history: make([]domain.DomainEvent, historySize),
	}
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, handler Handler) SubscriptionID {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, eventType: eventType, handler: handler})
	return b.nextID
}

// Unsubscribe removes a handler. It reports false when id is unknown.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// HandlerCount returns the number of handlers that receive events of eventType,
// including the ones subscribed to all types.
func (b *Bus) HandlerCount(eventType domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			n++
		}
	}
	return n
}

// Publish records event and runs every matching handler concurrently,
// returning once all of them have finished. Handler errors and panics are logged.
func (b *Bus) Publish(ctx context.Context, event domain.DomainEvent) {
	b.record(event)

	handlers := b.matching(event.Type)
	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, s := range handlers {
		go func(s subscription) {
			defer wg.Done()
			if err := b.invoke(ctx, s, event); err != nil {
				b.log.Warn().
					Err(err).
					Uint64("subscription_id", uint64(s.id)).
					Str("event_id", event.ID.String()).
					Str("event_type", string(event.Type)).
					Msg("event handler failed")
			}
		}(s)
	}
	wg.Wait()
}

// PublishAll publishes events one after another in slice order.
func (b *Bus) PublishAll(ctx context.Context, events []domain.DomainEvent) {
	for _, ev := range events {
		b.Publish(ctx, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, s subscription, event domain.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, event)
}

func (b *Bus) matching(eventType domain.EventType) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) record(event domain.DomainEvent) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history[b.head] = event
	b.head = (b.head + 1) % len(b.history)
	if b.count < len(b.history) {
		b.count++
	}
}

// History returns recorded events oldest first. A filter Limit keeps only the
// newest Limit matches.
func (b *Bus) History(filter domain.EventFilter) []domain.DomainEvent {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	start := (b.head - b.count + len(b.history)) % len(b.history)
	out := make([]domain.DomainEvent, 0, b.count)
	for i := 0; i < b.count; i++ {
		ev := b.history[(start+i)%len(b.history)]
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		out = append(out, ev)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Len returns the number of events currently held in history.
func (b *Bus) Len() int {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	return b.count
}
