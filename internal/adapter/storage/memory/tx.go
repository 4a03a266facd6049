package memory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errForeignTx = errors.New("memory: transaction was not started by this store")

var errReadOnly = &pgconn.PgError{Code: "25006", Message: "cannot execute in a read-only transaction"}

// Tx is a memory transaction. Only Commit and Rollback are supported on the
// embedded pgx.Tx; repositories of this package operate on it directly.
type Tx struct {
	pgx.Tx

	store    *Store
	readOnly bool
	closed   bool
	undo     []func()
	held     []string
}

// Transactor implements ports.DBTransactor for the memory store.
type Transactor struct {
	store *Store
}

// NewTransactor creates a Transactor for store.
func NewTransactor(store *Store) *Transactor {
	return &Transactor{store: store}
}

// Begin starts a read-write transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.BeginTx(ctx, pgx.TxOptions{})
}

// BeginTx starts a transaction. Isolation levels are accepted and ignored.
func (t *Transactor) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.store.injected("tx.Begin"); err != nil {
		return nil, err
	}
	return &Tx{
		store:    t.store,
		readOnly: opts.AccessMode == pgx.ReadOnly,
	}, nil
}

// Commit keeps every write and releases the row locks.
func (tx *Tx) Commit(_ context.Context) error {
	if err := tx.store.injected("tx.Commit"); err != nil {
		_ = tx.Rollback(context.Background())
		return err
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	tx.undo = nil
	s.releaseLocked(tx)
	return nil
}

// Rollback reverts every write in reverse order and releases the row locks.
func (tx *Tx) Rollback(_ context.Context) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	s.releaseLocked(tx)
	return nil
}

// record adds an undo step. s.mu must be held.
func (tx *Tx) record(undo func()) {
	tx.undo = append(tx.undo, undo)
}

// unwrap finds the memory Tx behind tx, looking through wrappers that expose Unwrap.
func unwrap(tx pgx.Tx) (*Tx, error) {
	for tx != nil {
		if mtx, ok := tx.(*Tx); ok {
			return mtx, nil
		}
		w, ok := tx.(interface{ Unwrap() pgx.Tx })
		if !ok {
			break
		}
		tx = w.Unwrap()
	}
	return nil, errForeignTx
}

// begin resolves tx and runs the fault hook for op.
func (s *Store) begin(tx pgx.Tx, op string, write bool) (*Tx, error) {
	mtx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	if mtx.store != s {
		return nil, errForeignTx
	}
	s.mu.Lock()
	closed := mtx.closed
	s.mu.Unlock()
	if closed {
		return nil, pgx.ErrTxClosed
	}
	if write && mtx.readOnly {
		return nil, errReadOnly
	}
	if err := s.injected(op); err != nil {
		return nil, err
	}
	return mtx, nil
}
