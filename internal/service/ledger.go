package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Balance change reasons carried by WalletBalanceUpdated events.
const (
	ReasonTransferDebit  = "transfer_debit"
	ReasonTransferCredit = "transfer_credit"
	ReasonWithdrawal     = "withdrawal"
	ReasonOnrampSettled  = "onramp_settled"
	ReasonOfframpSettled = "offramp_settled"
)

// BalanceLedger is the only code path that writes wallet balances.
// It implements ports.BalanceQueryService for reads.
type BalanceLedger struct {
	walletRepo  ports.WalletRepository
	balanceRepo ports.BalanceRepository
	uow         *UnitOfWork
	log         zerolog.Logger
}

// NewBalanceLedger creates a new BalanceLedger.
func NewBalanceLedger(
	walletRepo ports.WalletRepository,
	balanceRepo ports.BalanceRepository,
	uow *UnitOfWork,
	log zerolog.Logger,
) *BalanceLedger {
	return &BalanceLedger{
		walletRepo:  walletRepo,
		balanceRepo: balanceRepo,
		uow:         uow,
		log:         log.With().Str("component", "ledger").Logger(),
	}
}

// ApplyBalanceDelta adds delta to a wallet balance inside the caller's transaction.
// The row is created lazily and locked before the write. The result is checked
// both before and after the write; a negative outcome fails with InsufficientBalance
// so the caller's unit of work rolls back.
func (l *BalanceLedger) ApplyBalanceDelta(
	ctx context.Context,
	tx pgx.Tx,
	walletID uuid.UUID,
	token domain.TokenType,
	delta decimal.Decimal,
	reason string,
) (*domain.BalanceChange, error) {
	if !token.IsValid() {
		return nil, apperror.ErrUnsupportedToken(string(token))
	}
	if delta.IsZero() || !money.FitsScale(delta, money.CryptoScale) {
		return nil, apperror.ErrInvalidAmount()
	}

	if err := l.balanceRepo.EnsureExists(ctx, tx, walletID, token); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	current, err := l.balanceRepo.GetForUpdate(ctx, tx, walletID, token)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if current == nil {
		return nil, apperror.InternalError(fmt.Errorf("balance row %s/%s missing after ensure", walletID, token))
	}

	if current.Amount.Add(delta).IsNegative() {
		return nil, apperror.ErrInsufficientBalance()
	}

	updated, err := l.balanceRepo.AddDelta(ctx, tx, walletID, token, delta)
	if err != nil {
		if errors.Is(err, domain.ErrNegativeBalance) {
			return nil, apperror.ErrInsufficientBalance()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	// Re-validate what was actually stored, not what we computed.
	if updated.IsNegative() {
		l.log.Error().
			Str("wallet_id", walletID.String()).
			Str("token", string(token)).
			Str("amount", updated.String()).
			Msg("balance went negative after write, rolling back")
		return nil, apperror.ErrInsufficientBalance()
	}

	return &domain.BalanceChange{
		WalletID: walletID,
		Token:    token,
		Previous: updated.Sub(delta),
		New:      updated,
		Delta:    delta,
		Reason:   reason,
	}, nil
}

// LockBalances locks the balance rows of walletIDs for token in ascending id order,
// creating them when missing, and returns them keyed by wallet.
// A fixed lock order keeps two transfers between the same wallets from deadlocking.
func (l *BalanceLedger) LockBalances(
	ctx context.Context,
	tx pgx.Tx,
	token domain.TokenType,
	walletIDs ...uuid.UUID,
) (map[uuid.UUID]*domain.WalletBalance, error) {
	ids := make([]uuid.UUID, len(walletIDs))
	copy(ids, walletIDs)
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	locked := make(map[uuid.UUID]*domain.WalletBalance, len(ids))
	for _, id := range ids {
		if _, ok := locked[id]; ok {
			continue
		}
		if err := l.balanceRepo.EnsureExists(ctx, tx, id, token); err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		b, err := l.balanceRepo.GetForUpdate(ctx, tx, id, token)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if b == nil {
			return nil, apperror.InternalError(fmt.Errorf("balance row %s/%s missing after ensure", id, token))
		}
		locked[id] = b
	}
	return locked, nil
}

// Balance returns one token balance of a wallet. Untouched tokens report zero.
func (l *BalanceLedger) Balance(ctx context.Context, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error) {
	if !token.IsValid() {
		return nil, apperror.ErrUnsupportedToken(string(token))
	}

	var balance *domain.WalletBalance
	err := l.uow.ExecuteReadOnly(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := l.requireWallet(ctx, tx, walletID); err != nil {
			return err
		}
		b, err := l.balanceRepo.Get(ctx, tx, walletID, token)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		if b == nil {
			b = &domain.WalletBalance{WalletID: walletID, TokenType: token, Amount: decimal.Zero}
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return balance, nil
}

// Balances returns every token balance a wallet has touched, ordered by token.
func (l *BalanceLedger) Balances(ctx context.Context, walletID uuid.UUID) ([]domain.WalletBalance, error) {
	var balances []domain.WalletBalance
	err := l.uow.ExecuteReadOnly(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := l.requireWallet(ctx, tx, walletID); err != nil {
			return err
		}
		list, err := l.balanceRepo.ListByWallet(ctx, tx, walletID)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		balances = list
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return balances, nil
}

func (l *BalanceLedger) requireWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) error {
	w, err := l.walletRepo.GetByID(ctx, tx, walletID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if w == nil {
		return apperror.ErrNotFound("wallet")
	}
	return nil
}

// asAppError leaves AppErrors alone and wraps anything else as SYS_001.
func asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.InternalError(err)
}
