package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const rampOrderColumns = `id, user_id, wallet_id, provider, direction, status, provider_transaction_id,
		fiat_currency, fiat_amount::text, token_type, token_amount::text, exchange_rate::text, fee::text,
		amounts_confirmed, metadata, created_at, updated_at, completed_at, failed_at, failure_reason`

// RampOrderRepo implements ports.RampOrderRepository.
type RampOrderRepo struct {
	pool Pool
}

// NewRampOrderRepo creates a new RampOrderRepo.
func NewRampOrderRepo(pool Pool) *RampOrderRepo {
	return &RampOrderRepo{pool: pool}
}

// Create inserts a new ramp order within a database transaction.
func (r *RampOrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.RampOrder) error {
	query := `INSERT INTO ramp_orders (id, user_id, wallet_id, provider, direction, status, provider_transaction_id,
		fiat_currency, fiat_amount, token_type, token_amount, exchange_rate, fee, amounts_confirmed, metadata,
		created_at, updated_at, completed_at, failed_at, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	metadata, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query,
		o.ID, o.UserID, o.WalletID, o.Provider, o.Direction, o.Status, o.ProviderTransactionID,
		o.FiatCurrency, o.FiatAmount, o.TokenType, o.TokenAmount, o.ExchangeRate, o.Fee,
		o.AmountsConfirmed, metadata, o.CreatedAt, o.UpdatedAt,
		o.CompletedAt, o.FailedAt, o.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert ramp order: %w", err)
	}
	return nil
}

// GetByID fetches a ramp order by UUID.
func (r *RampOrderRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RampOrder, error) {
	query := `SELECT ` + rampOrderColumns + ` FROM ramp_orders WHERE id = $1`

	return scanRampOrder(conn(r.pool, tx).QueryRow(ctx, query, id))
}

// GetByProviderTxIDForUpdate locks the order the provider already knows by its own id.
func (r *RampOrderRepo) GetByProviderTxIDForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, providerTxID string) (*domain.RampOrder, error) {
	query := `SELECT ` + rampOrderColumns + ` FROM ramp_orders
		WHERE provider = $1 AND provider_transaction_id = $2 FOR UPDATE`

	return scanRampOrder(tx.QueryRow(ctx, query, provider, providerTxID))
}

// FindPendingByCorrelationForUpdate locks the most recent PENDING order matching the correlation key.
func (r *RampOrderRepo) FindPendingByCorrelationForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, correlationKey string) (*domain.RampOrder, error) {
	query := `SELECT ` + rampOrderColumns + ` FROM ramp_orders
		WHERE provider = $1 AND status = 'PENDING' AND metadata ->> 'correlation_key' = $2
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`

	return scanRampOrder(tx.QueryRow(ctx, query, provider, correlationKey))
}

// Update persists everything a notification may change.
func (r *RampOrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.RampOrder) error {
	query := `UPDATE ramp_orders SET status = $1, provider_transaction_id = $2, fiat_amount = $3,
		token_amount = $4, exchange_rate = $5, fee = $6, amounts_confirmed = $7, metadata = $8,
		updated_at = $9, completed_at = $10, failed_at = $11, failure_reason = $12
		WHERE id = $13`

	metadata, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, query,
		o.Status, o.ProviderTransactionID, o.FiatAmount, o.TokenAmount, o.ExchangeRate, o.Fee,
		o.AmountsConfirmed, metadata, o.UpdatedAt, o.CompletedAt, o.FailedAt, o.FailureReason, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update ramp order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ramp order not found: %s", o.ID)
	}
	return nil
}

func scanRampOrder(row pgx.Row) (*domain.RampOrder, error) {
	var (
		o                      domain.RampOrder
		fiat, token, rate, fee string
		metadata               []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.WalletID, &o.Provider, &o.Direction, &o.Status, &o.ProviderTransactionID,
		&o.FiatCurrency, &fiat, &o.TokenType, &token, &rate, &fee,
		&o.AmountsConfirmed, &metadata, &o.CreatedAt, &o.UpdatedAt,
		&o.CompletedAt, &o.FailedAt, &o.FailureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ramp order: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{fiat, &o.FiatAmount},
		{token, &o.TokenAmount},
		{rate, &o.ExchangeRate},
		{fee, &o.Fee},
	} {
		d, err := parseNumeric(f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse ramp order amount: %w", err)
		}
		*f.dst = d
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode ramp order metadata: %w", err)
		}
	}
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	return &o, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode ramp order metadata: %w", err)
	}
	return b, nil
}
