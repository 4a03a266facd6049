package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Header keys set on every relayed event.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// EventRelay forwards committed domain events to Kafka.
// Handle has the event bus handler signature; a write failure is returned to the
// bus, which logs it without affecting the operation that produced the event.
type EventRelay struct {
	writer MessageWriter
	log    zerolog.Logger
}

// NewEventRelay creates a new EventRelay.
func NewEventRelay(writer MessageWriter, log zerolog.Logger) *EventRelay {
	return &EventRelay{
		writer: writer,
		log:    log.With().Str("component", "event-relay").Logger(),
	}
}

// Handle writes one event keyed by its aggregate id.
func (r *EventRelay) Handle(ctx context.Context, event domain.DomainEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode domain event %s: %w", event.ID, err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafkago.Header{
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderEventID, Value: []byte(event.ID.String())},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("relay domain event %s: %w", event.ID, err)
	}

	r.log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("aggregate_id", event.AggregateID).
		Msg("domain event relayed")
	return nil
}

// Close closes the underlying writer.
func (r *EventRelay) Close() error {
	return r.writer.Close()
}
