package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin starts a new READ COMMITTED read-write transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}

// BeginTx starts a transaction with explicit isolation and access mode.
func (t *Transactor) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return t.pool.BeginTx(ctx, opts)
}
