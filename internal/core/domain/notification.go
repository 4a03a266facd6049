package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActualAmounts are the provider-reported values for a ramp order. Absent fields are left untouched.
type ActualAmounts struct {
	Crypto decimal.NullDecimal `json:"crypto"`
	Fiat   decimal.NullDecimal `json:"fiat"`
	Rate   decimal.NullDecimal `json:"rate"`
	Fee    decimal.NullDecimal `json:"fee"`
}

// ProviderNotification is one signature-verified webhook or polling result from a ramp provider.
type ProviderNotification struct {
	EventID         string        `json:"event_id"`
	Provider        string        `json:"provider"`
	ProviderOrderID string        `json:"provider_order_id"`
	CorrelationKey  string        `json:"correlation_key"`
	ProviderStatus  string        `json:"provider_status"`
	Actual          ActualAmounts `json:"actual"`
}

// ReconciliationOutcome records what happened to a notification.
type ReconciliationOutcome string

const (
	OutcomeApplied   ReconciliationOutcome = "APPLIED"   // order state was updated
	OutcomeDuplicate ReconciliationOutcome = "DUPLICATE" // event id seen before
	OutcomeNoop      ReconciliationOutcome = "NOOP"      // order already terminal
	OutcomeDiscarded ReconciliationOutcome = "DISCARDED" // unmatched or unusable, kept for follow-up
)

// ProcessedNotification is the durable idempotency marker for a provider event.
type ProcessedNotification struct {
	Provider    string                `json:"provider"`
	EventID     string                `json:"event_id"`
	RampOrderID *uuid.UUID            `json:"ramp_order_id,omitempty"`
	Outcome     ReconciliationOutcome `json:"outcome"`
	Reason      *string               `json:"reason,omitempty"`
	ProcessedAt time.Time             `json:"processed_at"`
}

// BuildNotificationKey constructs the cache key for a provider event.
func BuildNotificationKey(provider, eventID string) string {
	return provider + ":" + eventID
}
