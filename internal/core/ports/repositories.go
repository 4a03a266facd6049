package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Every repository method runs inside a unit of work and receives its pgx.Tx.
// Lookups return nil, nil when the row does not exist.

// WalletRepository defines persistence operations for wallets.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.WalletStatus) error
}

// BalanceRepository defines persistence operations for per-token wallet balances.
type BalanceRepository interface {
	// EnsureExists lazily creates a zero balance row.
	EnsureExists(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) error
	// GetForUpdate reads a balance row and holds its row lock until the transaction ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error)
	Get(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error)
	ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.WalletBalance, error)
	// AddDelta applies amount = amount + delta and returns the stored result.
	AddDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType, delta decimal.Decimal) (decimal.Decimal, error)
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// Update persists the mutable lifecycle fields.
	Update(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, limit int) ([]domain.Transaction, error)
}

// RampOrderRepository defines persistence operations for on/off-ramp orders.
type RampOrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.RampOrder) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RampOrder, error)
	GetByProviderTxIDForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, providerTxID string) (*domain.RampOrder, error)
	// FindPendingByCorrelationForUpdate returns the most recent PENDING order of provider whose
	// correlation key matches.
	FindPendingByCorrelationForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, correlationKey string) (*domain.RampOrder, error)
	Update(ctx context.Context, tx pgx.Tx, order *domain.RampOrder) error
}

// ProcessedNotificationRepository persists the durable idempotency markers for provider events.
type ProcessedNotificationRepository interface {
	// Insert records the marker and reports false when the event was already recorded.
	Insert(ctx context.Context, tx pgx.Tx, marker *domain.ProcessedNotification) (bool, error)
	Get(ctx context.Context, tx pgx.Tx, provider, eventID string) (*domain.ProcessedNotification, error)
	UpdateOutcome(ctx context.Context, tx pgx.Tx, marker *domain.ProcessedNotification) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFunc is the body of a unit of work.
type TxFunc func(ctx context.Context, tx pgx.Tx) error
