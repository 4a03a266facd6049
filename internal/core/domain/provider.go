package domain

import (
	"fmt"
	"strings"
)

// Provider is an on/off-ramp partner whose notifications the ledger understands.
type Provider string

const (
	ProviderMoonPay Provider = "moonpay"
	ProviderTransak Provider = "transak"
)

// ParseProvider normalises and validates a provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderMoonPay, ProviderTransak:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ProviderStatus is a raw status string in a provider's own vocabulary.
type ProviderStatus struct {
	Provider Provider
	Raw      string
}

// StatusMapping is the result of translating a provider status.
type StatusMapping struct {
	Status RampStatus
	Known  bool // false when Raw was not in the provider's table and Status fell back to PENDING
}

// MapProviderStatus translates a provider status onto the shared lifecycle.
// Unrecognised values map to PENDING, never to a terminal status.
func MapProviderStatus(ps ProviderStatus) StatusMapping {
	var (
		status RampStatus
		known  bool
	)
	switch ps.Provider {
	case ProviderMoonPay:
		status, known = mapMoonPay(ps.Raw)
	case ProviderTransak:
		status, known = mapTransak(ps.Raw)
	}
	if !known {
		return StatusMapping{Status: RampStatusPending}
	}
	return StatusMapping{Status: status, Known: true}
}

// Provider status matching ignores case and surrounding whitespace.
func mapMoonPay(raw string) (RampStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "waitingpayment", "waitingauthorization", "pending":
		return RampStatusPending, true
	case "processing":
		return RampStatusProcessing, true
	case "completed":
		return RampStatusCompleted, true
	case "failed":
		return RampStatusFailed, true
	case "cancelled", "expired":
		return RampStatusCancelled, true
	default:
		return "", false
	}
}

func mapTransak(raw string) (RampStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "AWAITING_PAYMENT_FROM_USER", "PAYMENT_DONE_MARKED_BY_USER":
		return RampStatusPending, true
	case "PROCESSING", "PENDING_DELIVERY_FROM_TRANSAK", "ON_HOLD_PENDING_DELIVERY_FROM_TRANSAK":
		return RampStatusProcessing, true
	case "COMPLETED":
		return RampStatusCompleted, true
	case "FAILED", "REFUNDED":
		return RampStatusFailed, true
	case "CANCELLED", "EXPIRED":
		return RampStatusCancelled, true
	default:
		return "", false
	}
}
