package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	store *Store
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(store *Store) *BalanceRepo {
	return &BalanceRepo{store: store}
}

// EnsureExists takes the row lock and inserts a zero row when missing.
func (r *BalanceRepo) EnsureExists(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) error {
	s := r.store
	mtx, err := s.begin(tx, "balances.EnsureExists", true)
	if err != nil {
		return err
	}
	key := balanceKey{walletID: walletID, token: token}
	if err := s.lock(ctx, mtx, balanceLockKey(key)); err != nil {
		return fmt.Errorf("ensure wallet balance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[walletID]; !ok {
		return fmt.Errorf("ensure wallet balance: wallet %s does not exist", walletID)
	}
	if _, ok := s.balances[key]; ok {
		return nil
	}
	s.balances[key] = domain.WalletBalance{
		WalletID:    walletID,
		TokenType:   token,
		Amount:      decimal.Zero,
		LastUpdated: time.Now().UTC(),
	}
	mtx.record(func() { delete(s.balances, key) })
	return nil
}

func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error) {
	s := r.store
	mtx, err := s.begin(tx, "balances.GetForUpdate", true)
	if err != nil {
		return nil, err
	}
	key := balanceKey{walletID: walletID, token: token}
	if err := s.lock(ctx, mtx, balanceLockKey(key)); err != nil {
		return nil, fmt.Errorf("get wallet balance for update: %w", err)
	}
	return r.read(key), nil
}

func (r *BalanceRepo) Get(_ context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType) (*domain.WalletBalance, error) {
	if _, err := r.store.begin(tx, "balances.Get", false); err != nil {
		return nil, err
	}
	return r.read(balanceKey{walletID: walletID, token: token}), nil
}

func (r *BalanceRepo) read(key balanceKey) *domain.WalletBalance {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[key]
	if !ok {
		return nil
	}
	return &b
}

func (r *BalanceRepo) ListByWallet(_ context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.WalletBalance, error) {
	s := r.store
	if _, err := s.begin(tx, "balances.ListByWallet", false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WalletBalance
	for k, b := range s.balances {
		if k.walletID == walletID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenType < out[j].TokenType })
	return out, nil
}

// AddDelta applies delta under the row lock. A negative result is rejected the
// way the non-negative CHECK constraint rejects it in PostgreSQL.
func (r *BalanceRepo) AddDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, token domain.TokenType, delta decimal.Decimal) (decimal.Decimal, error) {
	s := r.store
	mtx, err := s.begin(tx, "balances.AddDelta", true)
	if err != nil {
		return decimal.Zero, err
	}
	key := balanceKey{walletID: walletID, token: token}
	if err := s.lock(ctx, mtx, balanceLockKey(key)); err != nil {
		return decimal.Zero, fmt.Errorf("update wallet balance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.balances[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("wallet balance not found: %s/%s", walletID, token)
	}
	next := prev
	next.Amount = prev.Amount.Add(delta)
	if next.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("update wallet balance: %w", domain.ErrNegativeBalance)
	}
	next.LastUpdated = time.Now().UTC()
	s.balances[key] = next
	mtx.record(func() { s.balances[key] = prev })
	return next.Amount, nil
}
