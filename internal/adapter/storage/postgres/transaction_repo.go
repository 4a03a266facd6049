package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, type, sender_id, recipient_id, external_address, amount::text, token_type, fee::text,
		description, status, external_reference_id, created_at, updated_at, confirmed_at, failed_at, failure_reason`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, type, sender_id, recipient_id, external_address, amount, token_type, fee,
		description, status, external_reference_id, created_at, updated_at, confirmed_at, failed_at, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	recipientID, externalAddress := destinationColumns(t.Destination)

	_, err := tx.Exec(ctx, query,
		t.ID, t.Type, t.SenderID, recipientID, externalAddress,
		t.Amount, t.TokenType, t.Fee, t.Description, t.Status,
		t.ExternalReferenceID, t.CreatedAt, t.UpdatedAt,
		t.ConfirmedAt, t.FailedAt, t.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	return r.scanTransaction(conn(r.pool, tx).QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction with pessimistic locking.
// This MUST be called within a transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	return r.scanTransaction(tx.QueryRow(ctx, query, id))
}

// Update persists status, external reference and lifecycle timestamps.
func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `UPDATE transactions SET status = $1, external_reference_id = $2, updated_at = $3,
		confirmed_at = $4, failed_at = $5, failure_reason = $6
		WHERE id = $7`

	tag, err := tx.Exec(ctx, query,
		t.Status, t.ExternalReferenceID, t.UpdatedAt,
		t.ConfirmedAt, t.FailedAt, t.FailureReason, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	return nil
}

// ListByWallet returns the newest transactions a wallet sent or received.
func (r *TransactionRepo) ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := conn(r.pool, tx).Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t               domain.Transaction
		recipientID     *uuid.UUID
		externalAddress *string
		amount, fee     string
	)
	err := row.Scan(
		&t.ID, &t.Type, &t.SenderID, &recipientID, &externalAddress,
		&amount, &t.TokenType, &fee, &t.Description, &t.Status,
		&t.ExternalReferenceID, &t.CreatedAt, &t.UpdatedAt,
		&t.ConfirmedAt, &t.FailedAt, &t.FailureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if t.Amount, err = parseNumeric(amount); err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	if t.Fee, err = parseNumeric(fee); err != nil {
		return nil, fmt.Errorf("parse transaction fee: %w", err)
	}

	switch {
	case recipientID != nil:
		t.Destination = domain.InternalDestination{WalletID: *recipientID}
	case externalAddress != nil:
		t.Destination = domain.ExternalDestination{Address: *externalAddress}
	default:
		return nil, fmt.Errorf("transaction %s has no destination", t.ID)
	}
	return &t, nil
}

// destinationColumns splits the tagged destination into the recipient_id XOR external_address columns.
func destinationColumns(d domain.Destination) (*uuid.UUID, *string) {
	switch v := d.(type) {
	case domain.InternalDestination:
		id := v.WalletID
		return &id, nil
	case domain.ExternalDestination:
		addr := v.Address
		return nil, &addr
	}
	return nil, nil
}
