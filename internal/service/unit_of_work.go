package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"custodial-ledger/config"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/backoff"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCommitOutcomeUnknown marks a COMMIT whose reply never arrived. The server
// may have applied the transaction, so the unit of work is not re-run.
var ErrCommitOutcomeUnknown = errors.New("commit outcome unknown")

// ParallelFunc is one closure of ExecuteInParallel. Its result lands at the same index.
type ParallelFunc func(ctx context.Context, tx pgx.Tx) (any, error)

// UnitOfWork runs ledger operations inside database transactions.
// Writers use READ COMMITTED plus explicit row locks taken by the repositories.
type UnitOfWork struct {
	transactor ports.DBTransactor
	cfg        config.UoWConfig
	log        zerolog.Logger
}

// NewUnitOfWork creates a UnitOfWork with the given retry and timeout policy.
func NewUnitOfWork(transactor ports.DBTransactor, cfg config.UoWConfig, log zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{
		transactor: transactor,
		cfg:        cfg,
		log:        log.With().Str("component", "uow").Logger(),
	}
}

// Run executes fn with the configured policy: retries on transient failures,
// all of it bounded by the configured timeout.
func (u *UnitOfWork) Run(ctx context.Context, fn ports.TxFunc) error {
	return withTimeout(ctx, u.cfg.Timeout, func(ctx context.Context) error {
		return u.ExecuteWithRetry(ctx, u.cfg.MaxRetries, u.cfg.BaseDelay, fn)
	})
}

// ExecuteInTransaction runs fn in a READ COMMITTED transaction.
// It commits when fn returns nil and rolls back on error or panic.
func (u *UnitOfWork) ExecuteInTransaction(ctx context.Context, fn ports.TxFunc) error {
	return u.execute(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// ExecuteReadOnly runs fn in a read-only READ COMMITTED transaction for reporting queries.
func (u *UnitOfWork) ExecuteReadOnly(ctx context.Context, fn ports.TxFunc) error {
	return u.execute(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
}

// ExecuteWithRetry re-runs the whole transaction when it fails transiently,
// sleeping baseDelay * 2^(attempt-1) before each retry.
// Non-transient errors are returned immediately. Exhausted retries return
// apperror.ErrTransient wrapping the last error.
func (u *UnitOfWork) ExecuteWithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn ports.TxFunc) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.Exponential(baseDelay, attempt-1)
			u.log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("transient failure, retrying unit of work")
			if err := backoff.Sleep(ctx, delay); err != nil {
				return apperror.ErrTransient(lastErr)
			}
		}

		err := u.ExecuteInTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	u.log.Error().Err(lastErr).Int("max_retries", maxRetries).Msg("unit of work retries exhausted")
	return apperror.ErrTransient(lastErr)
}

// ExecuteWithTimeout races the transaction against a timer.
// On timeout it returns apperror.ErrTimeout; the transaction is cancelled through
// its context, which the driver honours on a best-effort basis.
func (u *UnitOfWork) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn ports.TxFunc) error {
	return withTimeout(ctx, timeout, func(ctx context.Context) error {
		return u.ExecuteInTransaction(ctx, fn)
	})
}

// ExecuteInParallel runs fns concurrently inside one transaction and returns
// their results in order. The first failure cancels the others and rolls back everything.
// Statements on the shared connection are serialised; row scans must complete
// (QueryRow().Scan, Rows.Close) before another closure can issue a statement.
func (u *UnitOfWork) ExecuteInParallel(ctx context.Context, fns ...ParallelFunc) ([]any, error) {
	results := make([]any, len(fns))
	err := u.ExecuteInTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		shared := &serialTx{Tx: tx}
		g, gctx := errgroup.WithContext(ctx)
		for i, fn := range fns {
			g.Go(func() error {
				res, err := fn(gctx, shared)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (u *UnitOfWork) execute(ctx context.Context, opts pgx.TxOptions, fn ports.TxFunc) (err error) {
	tx, err := u.transactor.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			u.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		u.rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if commitRejected(err) {
			return fmt.Errorf("commit tx: %w", err)
		}
		u.log.Error().Err(err).Msg("commit reply lost, transaction outcome unknown")
		return apperror.ErrTransient(fmt.Errorf("commit tx: %w: %w", ErrCommitOutcomeUnknown, err))
	}
	return nil
}

// commitRejected reports whether a failed COMMIT is known to have rolled back:
// the server answered with a serialization, deadlock or constraint error, or
// pgx saw the transaction end in ROLLBACK.
func commitRejected(err error) bool {
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "40") || strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func (u *UnitOfWork) rollback(ctx context.Context, tx pgx.Tx) {
	// The caller's context may already be cancelled; rollback must still reach the server.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		u.log.Warn().Err(err).Msg("rollback failed")
	}
}

type timedResult struct {
	err       error
	panicked  bool
	recovered any
}

func withTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan timedResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- timedResult{panicked: true, recovered: p}
			}
		}()
		done <- timedResult{err: op(ctx)}
	}()

	select {
	case res := <-done:
		if res.panicked {
			panic(res.recovered)
		}
		if res.err != nil && ctx.Err() != nil {
			return timeoutError(timeout, ctx.Err())
		}
		return res.err
	case <-ctx.Done():
		return timeoutError(timeout, ctx.Err())
	}
}

func timeoutError(timeout time.Duration, cause error) error {
	return apperror.ErrTimeout(fmt.Errorf("unit of work exceeded %s: %w", timeout, cause))
}

// PostgreSQL SQLSTATEs worth re-running a whole transaction for.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
}

// IsTransient reports whether err belongs to the retryable infrastructure class:
// connection reset or refused, timeouts, deadlocks and lock-wait timeouts.
// A commit with an unknown outcome is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCommitOutcomeUnknown) {
		return false
	}
	if apperror.HasCode(err, apperror.CodeTransient) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// serialTx lets several goroutines share one pgx.Tx by serialising statements.
type serialTx struct {
	pgx.Tx
	mu sync.Mutex
}

// Unwrap returns the underlying transaction.
func (t *serialTx) Unwrap() pgx.Tx { return t.Tx }

func (t *serialTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Tx.Exec(ctx, sql, args...)
}

func (t *serialTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.mu.Lock()
	rows, err := t.Tx.Query(ctx, sql, args...)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	return &serialRows{Rows: rows, unlock: t.mu.Unlock}, nil
}

func (t *serialTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.mu.Lock()
	return &serialRow{row: t.Tx.QueryRow(ctx, sql, args...), unlock: t.mu.Unlock}
}

type serialRow struct {
	row    pgx.Row
	once   sync.Once
	unlock func()
}

func (r *serialRow) Scan(dest ...any) error {
	defer r.once.Do(r.unlock)
	return r.row.Scan(dest...)
}

type serialRows struct {
	pgx.Rows
	once   sync.Once
	unlock func()
}

func (r *serialRows) Close() {
	r.Rows.Close()
	r.once.Do(r.unlock)
}
