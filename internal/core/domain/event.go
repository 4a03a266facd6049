package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a kind of committed fact.
type EventType string

const (
	EventTransactionCreated       EventType = "TransactionCreated"
	EventTransactionStatusChanged EventType = "TransactionStatusChanged"
	EventWalletBalanceUpdated     EventType = "WalletBalanceUpdated"
	EventRampOrderStatusChanged   EventType = "RampOrderStatusChanged"
)

// DomainEvent describes one committed state change. Payload is a value snapshot.
type DomainEvent struct {
	ID          uuid.UUID `json:"id"`
	Type        EventType `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	Payload     any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionStatusChangedPayload carries the transition and the resulting transaction.
type TransactionStatusChangedPayload struct {
	PreviousStatus TransactionStatus   `json:"previous_status"`
	Transaction    TransactionSnapshot `json:"transaction"`
}

// BalanceUpdatedPayload is the WalletBalanceUpdated payload.
type BalanceUpdatedPayload struct {
	WalletID        uuid.UUID       `json:"walletId"`
	TokenType       TokenType       `json:"tokenType"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	Delta           decimal.Decimal `json:"delta"`
	Reason          string          `json:"reason"`
}

func newEvent(t EventType, aggregateID string, payload any, now time.Time) DomainEvent {
	return DomainEvent{
		ID:          uuid.New(),
		Type:        t,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   now,
	}
}

// NewTransactionCreatedEvent snapshots tx as it stands at commit.
func NewTransactionCreatedEvent(tx *Transaction, now time.Time) DomainEvent {
	return newEvent(EventTransactionCreated, tx.ID.String(), tx.Snapshot(), now)
}

// NewTransactionStatusChangedEvent records a lifecycle transition of tx.
func NewTransactionStatusChangedEvent(tx *Transaction, previous TransactionStatus, now time.Time) DomainEvent {
	return newEvent(EventTransactionStatusChanged, tx.ID.String(), TransactionStatusChangedPayload{
		PreviousStatus: previous,
		Transaction:    tx.Snapshot(),
	}, now)
}

// NewWalletBalanceUpdatedEvent records one applied balance change.
func NewWalletBalanceUpdatedEvent(c BalanceChange, now time.Time) DomainEvent {
	return newEvent(EventWalletBalanceUpdated, c.WalletID.String(), BalanceUpdatedPayload{
		WalletID:        c.WalletID,
		TokenType:       c.Token,
		NewBalance:      c.New,
		PreviousBalance: c.Previous,
		Delta:           c.Delta,
		Reason:          c.Reason,
	}, now)
}

// NewRampOrderStatusChangedEvent records a lifecycle transition of a ramp order.
func NewRampOrderStatusChangedEvent(o *RampOrder, previous RampStatus, now time.Time) DomainEvent {
	return newEvent(EventRampOrderStatusChanged, o.ID.String(), o.Snapshot(previous), now)
}

// EventFilter selects events from the bus history. Zero values mean "all".
type EventFilter struct {
	Type  EventType
	Limit int
}
