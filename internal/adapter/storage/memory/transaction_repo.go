package memory

import (
	"context"
	"fmt"
	"sort"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	store *Store
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(store *Store) *TransactionRepo {
	return &TransactionRepo{store: store}
}

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	s := r.store
	mtx, err := s.begin(tx, "transactions.Create", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, txnLockKey(t.ID)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[t.ID]; ok {
		return fmt.Errorf("insert transaction: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"transactions_pkey\""})
	}
	s.txns[t.ID] = *t
	mtx.record(func() { delete(s.txns, t.ID) })
	return nil
}

func (r *TransactionRepo) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	if _, err := r.store.begin(tx, "transactions.GetByID", false); err != nil {
		return nil, err
	}
	return r.read(id), nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	s := r.store
	mtx, err := s.begin(tx, "transactions.GetByIDForUpdate", true)
	if err != nil {
		return nil, err
	}
	if err := s.lock(ctx, mtx, txnLockKey(id)); err != nil {
		return nil, fmt.Errorf("get transaction for update: %w", err)
	}
	return r.read(id), nil
}

func (r *TransactionRepo) read(id uuid.UUID) *domain.Transaction {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil
	}
	return &t
}

func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	s := r.store
	mtx, err := s.begin(tx, "transactions.Update", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, txnLockKey(t.ID)); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.txns[t.ID]
	if !ok {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	s.txns[t.ID] = *t
	mtx.record(func() { s.txns[t.ID] = prev })
	return nil
}

// ListByWallet returns transactions the wallet sent or received, newest first.
func (r *TransactionRepo) ListByWallet(_ context.Context, tx pgx.Tx, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	s := r.store
	if _, err := s.begin(tx, "transactions.ListByWallet", false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.txns {
		recipient, _ := t.RecipientWalletID()
		if t.SenderID == walletID || recipient == walletID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
