package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository on the wallet_balances table.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// EnsureExists creates a zero balance row unless one already exists.
func (r *BalanceRepo) EnsureExists(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) error {
	query := `INSERT INTO wallet_balances (wallet_id, token_type, amount, last_updated)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (wallet_id, token_type) DO NOTHING`

	if _, err := tx.Exec(ctx, query, walletID, token); err != nil {
		return fmt.Errorf("ensure wallet balance: %w", err)
	}
	return nil
}

// GetForUpdate fetches a balance row with pessimistic locking.
// This MUST be called within a transaction.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error) {
	query := `SELECT wallet_id, token_type, amount::text, last_updated
		FROM wallet_balances WHERE wallet_id = $1 AND token_type = $2 FOR UPDATE`

	b, err := scanBalance(tx.QueryRow(ctx, query, walletID, token))
	if err != nil {
		return nil, fmt.Errorf("get wallet balance for update: %w", err)
	}
	return b, nil
}

// Get fetches a balance row without locking.
func (r *BalanceRepo) Get(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error) {
	query := `SELECT wallet_id, token_type, amount::text, last_updated
		FROM wallet_balances WHERE wallet_id = $1 AND token_type = $2`

	b, err := scanBalance(conn(r.pool, tx).QueryRow(ctx, query, walletID, token))
	if err != nil {
		return nil, fmt.Errorf("get wallet balance: %w", err)
	}
	return b, nil
}

// ListByWallet returns every token balance of a wallet ordered by token.
func (r *BalanceRepo) ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.WalletBalance, error) {
	query := `SELECT wallet_id, token_type, amount::text, last_updated
		FROM wallet_balances WHERE wallet_id = $1 ORDER BY token_type`

	rows, err := conn(r.pool, tx).Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.WalletBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet balance: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wallet balances: %w", err)
	}
	return balances, nil
}

// AddDelta applies amount = amount + delta and returns the stored amount.
// The amount >= 0 CHECK constraint surfaces as domain.ErrNegativeBalance.
func (r *BalanceRepo) AddDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `UPDATE wallet_balances SET amount = amount + $1, last_updated = NOW()
		WHERE wallet_id = $2 AND token_type = $3
		RETURNING amount::text`

	var raw string
	err := tx.QueryRow(ctx, query, delta, walletID, token).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("wallet balance not found: %s/%s", walletID, token)
		}
		if isCheckViolation(err) {
			return decimal.Zero, fmt.Errorf("update wallet balance: %w", domain.ErrNegativeBalance)
		}
		return decimal.Zero, fmt.Errorf("update wallet balance: %w", err)
	}

	amount, err := parseNumeric(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse wallet balance: %w", err)
	}
	return amount, nil
}

func scanBalance(row pgx.Row) (*domain.WalletBalance, error) {
	var (
		b   domain.WalletBalance
		raw string
	)
	err := row.Scan(&b.WalletID, &b.TokenType, &raw, &b.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if b.Amount, err = parseNumeric(raw); err != nil {
		return nil, err
	}
	return &b, nil
}
