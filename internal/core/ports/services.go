package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached value or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher delivers committed domain events to in-process subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.DomainEvent)
	PublishAll(ctx context.Context, events []domain.DomainEvent)
}

// EventHistory exposes the bounded in-memory event history.
type EventHistory interface {
	History(filter domain.EventFilter) []domain.DomainEvent
}

// --- Service Ports (Business Logic) ---

// TransferService moves value between wallets and drives the transaction lifecycle.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error)
	CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error)
	ConfirmTransaction(ctx context.Context, id uuid.UUID, externalReferenceID *string) (*domain.Transaction, error)
	FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, id uuid.UUID, requesterID uuid.UUID) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Transaction, error)
}

// TransferRequest holds the input for an internal wallet-to-wallet transfer.
type TransferRequest struct {
	SenderWalletID    uuid.UUID
	RecipientWalletID uuid.UUID
	Token             domain.TokenType
	Amount            decimal.Decimal
	Description       *string
}

// WithdrawalRequest holds the input for an outbound transfer to an external address.
type WithdrawalRequest struct {
	SenderWalletID uuid.UUID
	Address        string
	Token          domain.TokenType
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Description    *string
}

// ReconciliationService folds provider notifications into ramp order state.
type ReconciliationService interface {
	CreateRampOrder(ctx context.Context, req CreateRampOrderRequest) (*domain.RampOrder, error)
	HandleProviderNotification(ctx context.Context, n domain.ProviderNotification) (*ReconciliationResult, error)
}

// CreateRampOrderRequest holds the intent captured when a user starts a ramp flow.
type CreateRampOrderRequest struct {
	UserID         uuid.UUID
	WalletID       uuid.UUID
	Provider       domain.Provider
	Direction      domain.RampDirection
	FiatCurrency   string
	FiatAmount     decimal.Decimal
	TokenType      domain.TokenType
	TokenAmount    decimal.Decimal
	CorrelationKey string
	Metadata       map[string]string
}

// ReconciliationResult reports what a notification did.
type ReconciliationResult struct {
	Outcome     domain.ReconciliationOutcome
	RampOrderID *uuid.UUID
	Status      domain.RampStatus
	Reason      string
}

// BalanceQueryService answers read-only balance questions.
type BalanceQueryService interface {
	Balance(ctx context.Context, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error)
	Balances(ctx context.Context, walletID uuid.UUID) ([]domain.WalletBalance, error)
}
