package service

import (
	"bytes"
	"context"
	"testing"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports/mocks"
	"custodial-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupLedger(t *testing.T) (*BalanceLedger, *mocks.MockWalletRepository, *mocks.MockBalanceRepository, *mocks.MockDBTransactor) {
	ctrl := gomock.NewController(t)
	walletRepo := mocks.NewMockWalletRepository(ctrl)
	balanceRepo := mocks.NewMockBalanceRepository(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	return NewBalanceLedger(walletRepo, balanceRepo, newTestUoW(transactor), zerolog.Nop()), walletRepo, balanceRepo, transactor
}

func TestBalanceLedger_ApplyBalanceDelta(t *testing.T) {
	ctx := context.Background()
	tx := &mockTx{}
	walletID := uuid.New()

	t.Run("credit creates row lazily", func(t *testing.T) {
		ledger, _, balanceRepo, _ := setupLedger(t)
		balanceRepo.EXPECT().EnsureExists(ctx, tx, walletID, domain.TokenSOL).Return(nil)
		balanceRepo.EXPECT().GetForUpdate(ctx, tx, walletID, domain.TokenSOL).
			Return(&domain.WalletBalance{WalletID: walletID, TokenType: domain.TokenSOL, Amount: decimal.Zero}, nil)
		balanceRepo.EXPECT().AddDelta(ctx, tx, walletID, domain.TokenSOL, decEq("1.5")).Return(dec("1.5"), nil)

		change, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, domain.TokenSOL, dec("1.5"), "test")
		require.NoError(t, err)
		assert.True(t, change.Previous.IsZero())
		assert.True(t, change.New.Equal(dec("1.5")))
		assert.Equal(t, "test", change.Reason)
	})

	t.Run("debit to exactly zero is allowed", func(t *testing.T) {
		ledger, _, balanceRepo, _ := setupLedger(t)
		balanceRepo.EXPECT().EnsureExists(ctx, tx, walletID, domain.TokenUSDC).Return(nil)
		balanceRepo.EXPECT().GetForUpdate(ctx, tx, walletID, domain.TokenUSDC).Return(balanceOf(walletID, "5"), nil)
		balanceRepo.EXPECT().AddDelta(ctx, tx, walletID, domain.TokenUSDC, decEq("-5")).Return(decimal.Zero, nil)

		change, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, domain.TokenUSDC, dec("-5"), "test")
		require.NoError(t, err)
		assert.True(t, change.New.IsZero())
	})

	t.Run("overdraft rejected before the write", func(t *testing.T) {
		ledger, _, balanceRepo, _ := setupLedger(t)
		balanceRepo.EXPECT().EnsureExists(ctx, tx, walletID, domain.TokenUSDC).Return(nil)
		balanceRepo.EXPECT().GetForUpdate(ctx, tx, walletID, domain.TokenUSDC).Return(balanceOf(walletID, "5"), nil)

		_, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, domain.TokenUSDC, dec("-5.00000001"), "test")
		assertAppError(t, err, apperror.CodeInsufficientBalance)
	})

	t.Run("storage check constraint maps to insufficient", func(t *testing.T) {
		ledger, _, balanceRepo, _ := setupLedger(t)
		balanceRepo.EXPECT().EnsureExists(ctx, tx, walletID, domain.TokenUSDC).Return(nil)
		balanceRepo.EXPECT().GetForUpdate(ctx, tx, walletID, domain.TokenUSDC).Return(balanceOf(walletID, "5"), nil)
		balanceRepo.EXPECT().AddDelta(ctx, tx, walletID, domain.TokenUSDC, decEq("-1")).
			Return(decimal.Zero, domain.ErrNegativeBalance)

		_, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, domain.TokenUSDC, dec("-1"), "test")
		assertAppError(t, err, apperror.CodeInsufficientBalance)
	})

	t.Run("negative stored result is rejected", func(t *testing.T) {
		ledger, _, balanceRepo, _ := setupLedger(t)
		balanceRepo.EXPECT().EnsureExists(ctx, tx, walletID, domain.TokenUSDC).Return(nil)
		balanceRepo.EXPECT().GetForUpdate(ctx, tx, walletID, domain.TokenUSDC).Return(balanceOf(walletID, "5"), nil)
		balanceRepo.EXPECT().AddDelta(ctx, tx, walletID, domain.TokenUSDC, decEq("-1")).Return(dec("-0.1"), nil)

		_, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, domain.TokenUSDC, dec("-1"), "test")
		assertAppError(t, err, apperror.CodeInsufficientBalance)
	})

	invalid := []struct {
		name  string
		token domain.TokenType
		delta decimal.Decimal
	}{
		{name: "zero delta", token: domain.TokenUSDC, delta: decimal.Zero},
		{name: "nine decimals", token: domain.TokenUSDC, delta: dec("0.000000001")},
		{name: "unknown token", token: "BTC", delta: dec("1")},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _, _, _ := setupLedger(t)
			_, err := ledger.ApplyBalanceDelta(ctx, tx, walletID, tt.token, tt.delta, "test")
			assertAppError(t, err, apperror.CodeValidation)
		})
	}
}

func TestBalanceLedger_LockBalances_AscendingOrder(t *testing.T) {
	ledger, _, balanceRepo, _ := setupLedger(t)
	ctx := context.Background()
	tx := &mockTx{}

	a, b := uuid.New(), uuid.New()
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}

	var locked []uuid.UUID
	balanceRepo.EXPECT().EnsureExists(ctx, tx, gomock.Any(), domain.TokenUSDC).Return(nil).Times(2)
	balanceRepo.EXPECT().GetForUpdate(ctx, tx, gomock.Any(), domain.TokenUSDC).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, id uuid.UUID, _ domain.TokenType) (*domain.WalletBalance, error) {
			locked = append(locked, id)
			return balanceOf(id, "1"), nil
		}).Times(2)

	// Pass the larger id first, plus a duplicate.
	got, err := ledger.LockBalances(ctx, tx, domain.TokenUSDC, b, a, b)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, locked)
	assert.Len(t, got, 2)
}

func TestBalanceLedger_Balance(t *testing.T) {
	ledger, walletRepo, balanceRepo, transactor := setupLedger(t)
	ctx := context.Background()
	walletID := uuid.New()

	transactor.EXPECT().BeginTx(gomock.Any(), readOnly).Return(&mockTx{}, nil).Times(2)
	walletRepo.EXPECT().GetByID(gomock.Any(), gomock.Any(), walletID).
		Return(&domain.Wallet{ID: walletID, Status: domain.WalletStatusActive}, nil).Times(2)
	balanceRepo.EXPECT().Get(gomock.Any(), gomock.Any(), walletID, domain.TokenEURC).Return(nil, nil)
	balanceRepo.EXPECT().ListByWallet(gomock.Any(), gomock.Any(), walletID).
		Return([]domain.WalletBalance{*balanceOf(walletID, "3")}, nil)

	b, err := ledger.Balance(ctx, walletID, domain.TokenEURC)
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())
	assert.Equal(t, domain.TokenEURC, b.TokenType)

	list, err := ledger.Balances(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Amount.Equal(dec("3")))
}

func TestBalanceLedger_Balance_UnknownWallet(t *testing.T) {
	ledger, walletRepo, _, transactor := setupLedger(t)
	walletID := uuid.New()

	transactor.EXPECT().BeginTx(gomock.Any(), readOnly).Return(&mockTx{}, nil)
	walletRepo.EXPECT().GetByID(gomock.Any(), gomock.Any(), walletID).Return(nil, nil)

	_, err := ledger.Balances(context.Background(), walletID)
	assertAppError(t, err, apperror.CodeNotFound)

	_, err = ledger.Balance(context.Background(), walletID, "XRP")
	assertAppError(t, err, apperror.CodeValidation)
}
