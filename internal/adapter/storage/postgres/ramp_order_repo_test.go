package postgres

import (
	"context"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRampOrder() *domain.RampOrder {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.RampOrder{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		WalletID:     uuid.New(),
		Provider:     domain.ProviderMoonPay,
		Direction:    domain.RampDirectionOnramp,
		Status:       domain.RampStatusPending,
		FiatCurrency: "USD",
		FiatAmount:   decimal.NewFromInt(100),
		TokenType:    domain.TokenUSDC,
		TokenAmount:  decimal.NewFromInt(99),
		ExchangeRate: decimal.NewFromInt(1),
		Fee:          decimal.NewFromInt(1),
		Metadata:     map[string]string{domain.MetadataCorrelationKey: "corr-1"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func rampOrderColumnNames() []string {
	return []string{
		"id", "user_id", "wallet_id", "provider", "direction", "status", "provider_transaction_id",
		"fiat_currency", "fiat_amount", "token_type", "token_amount", "exchange_rate", "fee",
		"amounts_confirmed", "metadata", "created_at", "updated_at", "completed_at", "failed_at", "failure_reason",
	}
}

func rampOrderRow(o *domain.RampOrder, metadata []byte) *pgxmock.Rows {
	return pgxmock.NewRows(rampOrderColumnNames()).AddRow(
		o.ID, o.UserID, o.WalletID, o.Provider, o.Direction, o.Status, o.ProviderTransactionID,
		o.FiatCurrency, o.FiatAmount.StringFixed(2), o.TokenType, o.TokenAmount.StringFixed(8),
		o.ExchangeRate.StringFixed(8), o.Fee.StringFixed(8),
		o.AmountsConfirmed, metadata, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.FailedAt, o.FailureReason,
	)
}

func TestRampOrderRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ramp_orders").
		WithArgs(
			o.ID, o.UserID, o.WalletID, o.Provider, o.Direction, o.Status, o.ProviderTransactionID,
			o.FiatCurrency, pgxmock.AnyArg(), o.TokenType, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			false, []byte(`{"correlation_key":"corr-1"}`), o.CreatedAt, o.UpdatedAt,
			o.CompletedAt, o.FailedAt, o.FailureReason,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRampOrderRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()

	mock.ExpectQuery("SELECT .+ FROM ramp_orders WHERE id").
		WithArgs(o.ID).
		WillReturnRows(rampOrderRow(o, []byte(`{"correlation_key":"corr-1"}`)))

	result, err := repo.GetByID(context.Background(), nil, o.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "corr-1", result.CorrelationKey())
	assert.True(t, result.FiatAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.TokenAmount.Equal(decimal.NewFromInt(99)))
	assert.False(t, result.AmountsConfirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRampOrderRepo_GetByID_EmptyMetadata(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()

	mock.ExpectQuery("SELECT .+ FROM ramp_orders WHERE id").
		WithArgs(o.ID).
		WillReturnRows(rampOrderRow(o, nil))

	result, err := repo.GetByID(context.Background(), nil, o.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotNil(t, result.Metadata)
	assert.Empty(t, result.CorrelationKey())
}

func TestRampOrderRepo_GetByProviderTxIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()
	o.ProviderTransactionID = strPtr("mp_123")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM ramp_orders\\s+WHERE provider = \\$1 AND provider_transaction_id = \\$2 FOR UPDATE").
		WithArgs(domain.ProviderMoonPay, "mp_123").
		WillReturnRows(rampOrderRow(o, []byte(`{}`)))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByProviderTxIDForUpdate(context.Background(), tx, domain.ProviderMoonPay, "mp_123")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.ProviderTransactionID)
	assert.Equal(t, "mp_123", *result.ProviderTransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRampOrderRepo_FindPendingByCorrelationForUpdate_NoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM ramp_orders\\s+WHERE provider = \\$1 AND status = 'PENDING' AND metadata ->> 'correlation_key' = \\$2").
		WithArgs(domain.ProviderTransak, "corr-x").
		WillReturnError(pgx.ErrNoRows)

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.FindPendingByCorrelationForUpdate(context.Background(), tx, domain.ProviderTransak, "corr-x")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRampOrderRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()
	o.AmountsConfirmed = true
	o.Advance(domain.RampStatusCompleted, time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE ramp_orders SET status").
		WithArgs(
			o.Status, o.ProviderTransactionID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			true, pgxmock.AnyArg(), o.UpdatedAt, o.CompletedAt, o.FailedAt, o.FailureReason, o.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Update(context.Background(), tx, o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRampOrderRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRampOrderRepo(mock)
	o := newTestRampOrder()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE ramp_orders SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), tx, o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ramp order not found")
}

func TestMarshalMetadata_Nil(t *testing.T) {
	b, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
