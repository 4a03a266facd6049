package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetadataCorrelationKey is the metadata entry used to match notifications to orders
// before the provider has assigned its own transaction id.
const MetadataCorrelationKey = "correlation_key"

// RampDirection distinguishes fiat-to-crypto from crypto-to-fiat orders.
type RampDirection string

const (
	RampDirectionOnramp  RampDirection = "ONRAMP"
	RampDirectionOfframp RampDirection = "OFFRAMP"
)

// IsValid reports whether d is a known direction.
func (d RampDirection) IsValid() bool {
	return d == RampDirectionOnramp || d == RampDirectionOfframp
}

// RampStatus is the shared lifecycle used by on/off-ramp orders.
type RampStatus string

const (
	RampStatusPending    RampStatus = "PENDING"
	RampStatusProcessing RampStatus = "PROCESSING"
	RampStatusCompleted  RampStatus = "COMPLETED"
	RampStatusFailed     RampStatus = "FAILED"
	RampStatusCancelled  RampStatus = "CANCELLED"
)

// IsTerminal returns true for COMPLETED, FAILED and CANCELLED.
func (s RampStatus) IsTerminal() bool {
	switch s {
	case RampStatusCompleted, RampStatusFailed, RampStatusCancelled:
		return true
	}
	return false
}

// Stage orders statuses so that out-of-order notifications can be detected.
func (s RampStatus) Stage() int {
	switch s {
	case RampStatusPending:
		return 0
	case RampStatusProcessing:
		return 1
	default:
		return 2
	}
}

// RampOrder is an external fiat<->crypto conversion settled by a third-party provider.
// FiatAmount, TokenAmount, ExchangeRate and Fee hold the intent at creation and are
// overwritten by the provider's reported values.
type RampOrder struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	WalletID              uuid.UUID
	Provider              Provider
	Direction             RampDirection
	Status                RampStatus
	ProviderTransactionID *string
	FiatCurrency          string
	FiatAmount            decimal.Decimal
	TokenType             TokenType
	TokenAmount           decimal.Decimal
	ExchangeRate          decimal.Decimal
	Fee                   decimal.Decimal
	AmountsConfirmed      bool // true once a provider reported the actual token amount
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CompletedAt           *time.Time
	FailedAt              *time.Time
	FailureReason         *string
}

// IsTerminal returns true if the order is in a final state.
func (o *RampOrder) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// CorrelationKey returns the partner-assigned correlation key, if any.
func (o *RampOrder) CorrelationKey() string {
	return o.Metadata[MetadataCorrelationKey]
}

// Advance moves the order forward to next and reports whether the status changed.
// Terminal orders never move and earlier stages never replace later ones.
func (o *RampOrder) Advance(next RampStatus, now time.Time) bool {
	if o.IsTerminal() || next == o.Status || next.Stage() < o.Status.Stage() {
		return false
	}
	o.Status = next
	o.UpdatedAt = now
	switch next {
	case RampStatusCompleted:
		o.CompletedAt = &now
	case RampStatusFailed, RampStatusCancelled:
		o.FailedAt = &now
	}
	return true
}

// RampOrderSnapshot is the immutable, serialisable view of a RampOrder carried by events.
type RampOrderSnapshot struct {
	ID                    uuid.UUID       `json:"id"`
	UserID                uuid.UUID       `json:"user_id"`
	WalletID              uuid.UUID       `json:"wallet_id"`
	Provider              Provider        `json:"provider"`
	Direction             RampDirection   `json:"direction"`
	Status                RampStatus      `json:"status"`
	PreviousStatus        RampStatus      `json:"previous_status"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty"`
	FiatCurrency          string          `json:"fiat_currency"`
	FiatAmount            decimal.Decimal `json:"fiat_amount"`
	TokenType             TokenType       `json:"token_type"`
	TokenAmount           decimal.Decimal `json:"token_amount"`
	ExchangeRate          decimal.Decimal `json:"exchange_rate"`
	Fee                   decimal.Decimal `json:"fee"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	FailedAt              *time.Time      `json:"failed_at,omitempty"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
}

// Snapshot copies the order into a value detached from later mutation.
func (o *RampOrder) Snapshot(previous RampStatus) RampOrderSnapshot {
	return RampOrderSnapshot{
		ID:                    o.ID,
		UserID:                o.UserID,
		WalletID:              o.WalletID,
		Provider:              o.Provider,
		Direction:             o.Direction,
		Status:                o.Status,
		PreviousStatus:        previous,
		ProviderTransactionID: copyString(o.ProviderTransactionID),
		FiatCurrency:          o.FiatCurrency,
		FiatAmount:            o.FiatAmount,
		TokenType:             o.TokenType,
		TokenAmount:           o.TokenAmount,
		ExchangeRate:          o.ExchangeRate,
		Fee:                   o.Fee,
		CompletedAt:           copyTime(o.CompletedAt),
		FailedAt:              copyTime(o.FailedAt),
		FailureReason:         copyString(o.FailureReason),
	}
}
