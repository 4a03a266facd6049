package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransactionType represents the kind of value movement.
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"   // wallet to wallet
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL" // wallet to external address
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal returns true for every status except PENDING.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusPending
}

// CanTransitionTo reports whether s may move to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s != TransactionStatusPending {
		return false
	}
	switch next {
	case TransactionStatusConfirmed, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// Destination is where a transaction's funds go: another custodial wallet or an external address.
type Destination interface {
	isDestination()
	String() string
}

// InternalDestination targets a wallet held by this ledger.
type InternalDestination struct {
	WalletID uuid.UUID
}

func (InternalDestination) isDestination() {}

func (d InternalDestination) String() string { return "wallet:" + d.WalletID.String() }

// ExternalDestination targets a non-custodial on-chain address.
type ExternalDestination struct {
	Address string
}

func (ExternalDestination) isDestination() {}

func (d ExternalDestination) String() string { return "address:" + d.Address }

// Transaction is the auditable record of one value movement. Immutable once terminal.
type Transaction struct {
	ID                  uuid.UUID
	Type                TransactionType
	SenderID            uuid.UUID
	Destination         Destination
	Amount              decimal.Decimal
	TokenType           TokenType
	Fee                 decimal.Decimal
	Description         *string
	Status              TransactionStatus
	ExternalReferenceID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ConfirmedAt         *time.Time
	FailedAt            *time.Time
	FailureReason       *string
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// RecipientWalletID returns the destination wallet for internal transfers.
func (t *Transaction) RecipientWalletID() (uuid.UUID, bool) {
	if d, ok := t.Destination.(InternalDestination); ok {
		return d.WalletID, true
	}
	return uuid.Nil, false
}

// ExternalAddress returns the destination address for outbound transfers.
func (t *Transaction) ExternalAddress() (string, bool) {
	if d, ok := t.Destination.(ExternalDestination); ok {
		return d.Address, true
	}
	return "", false
}

// TotalDebit is what the sender pays: amount plus fee.
func (t *Transaction) TotalDebit() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

func (t *Transaction) transition(next TransactionStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// Confirm marks the transaction CONFIRMED.
func (t *Transaction) Confirm(now time.Time, externalRef *string) error {
	if err := t.transition(TransactionStatusConfirmed, now); err != nil {
		return err
	}
	t.ConfirmedAt = &now
	if externalRef != nil {
		t.ExternalReferenceID = externalRef
	}
	return nil
}

// Fail marks the transaction FAILED with a reason.
func (t *Transaction) Fail(now time.Time, reason string) error {
	if err := t.transition(TransactionStatusFailed, now); err != nil {
		return err
	}
	t.FailedAt = &now
	t.FailureReason = &reason
	return nil
}

// Cancel marks the transaction CANCELLED.
func (t *Transaction) Cancel(now time.Time) error {
	return t.transition(TransactionStatusCancelled, now)
}

// TransactionSnapshot is the immutable, serialisable view of a Transaction carried by events.
type TransactionSnapshot struct {
	ID                  uuid.UUID         `json:"id"`
	Type                TransactionType   `json:"type"`
	SenderID            uuid.UUID         `json:"sender_id"`
	RecipientID         *uuid.UUID        `json:"recipient_id,omitempty"`
	ExternalAddress     *string           `json:"external_address,omitempty"`
	Amount              decimal.Decimal   `json:"amount"`
	TokenType           TokenType         `json:"token_type"`
	Fee                 decimal.Decimal   `json:"fee"`
	Description         *string           `json:"description,omitempty"`
	Status              TransactionStatus `json:"status"`
	ExternalReferenceID *string           `json:"external_reference_id,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ConfirmedAt         *time.Time        `json:"confirmed_at,omitempty"`
	FailedAt            *time.Time        `json:"failed_at,omitempty"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
}

// Snapshot copies the transaction into a value detached from later mutation.
func (t *Transaction) Snapshot() TransactionSnapshot {
	s := TransactionSnapshot{
		ID:                  t.ID,
		Type:                t.Type,
		SenderID:            t.SenderID,
		Amount:              t.Amount,
		TokenType:           t.TokenType,
		Fee:                 t.Fee,
		Description:         copyString(t.Description),
		Status:              t.Status,
		ExternalReferenceID: copyString(t.ExternalReferenceID),
		CreatedAt:           t.CreatedAt,
		ConfirmedAt:         copyTime(t.ConfirmedAt),
		FailedAt:            copyTime(t.FailedAt),
		FailureReason:       copyString(t.FailureReason),
	}
	if id, ok := t.RecipientWalletID(); ok {
		s.RecipientID = &id
	}
	if addr, ok := t.ExternalAddress(); ok {
		s.ExternalAddress = &addr
	}
	return s
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
