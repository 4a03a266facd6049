package memory

import (
	"context"
	"fmt"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	s := r.store
	mtx, err := s.begin(tx, "wallets.Create", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, walletLockKey(w.ID)); err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[w.ID]; ok {
		return fmt.Errorf("insert wallet: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"wallets_pkey\""})
	}
	s.wallets[w.ID] = *w
	mtx.record(func() { delete(s.wallets, w.ID) })
	return nil
}

func (r *WalletRepo) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	s := r.store
	if _, err := s.begin(tx, "wallets.GetByID", false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.WalletStatus) error {
	s := r.store
	mtx, err := s.begin(tx, "wallets.UpdateStatus", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, walletLockKey(id)); err != nil {
		return fmt.Errorf("update wallet status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.wallets[id]
	if !ok {
		return fmt.Errorf("wallet not found: %s", id)
	}
	next := prev
	next.Status = status
	next.UpdatedAt = time.Now().UTC()
	s.wallets[id] = next
	mtx.record(func() { s.wallets[id] = prev })
	return nil
}
