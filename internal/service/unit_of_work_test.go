package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"custodial-ledger/config"
	"custodial-ledger/internal/core/ports/mocks"
	"custodial-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	readWrite = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	readOnly  = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}
	deadlock  = &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
)

func testUoWConfig() config.UoWConfig {
	return config.UoWConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Timeout: time.Second}
}

func setupUoW(t *testing.T) (*UnitOfWork, *mocks.MockDBTransactor) {
	ctrl := gomock.NewController(t)
	transactor := mocks.NewMockDBTransactor(ctrl)
	return NewUnitOfWork(transactor, testUoWConfig(), zerolog.Nop()), transactor
}

func TestUnitOfWork_ExecuteInTransaction_Commits(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	var got pgx.Tx
	err := uow.ExecuteInTransaction(context.Background(), func(_ context.Context, tx pgx.Tx) error {
		got = tx
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, tx, got)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)
}

func TestUnitOfWork_ExecuteInTransaction_RollsBackOnError(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	opErr := apperror.ErrInsufficientBalance()
	err := uow.ExecuteInTransaction(context.Background(), func(context.Context, pgx.Tx) error {
		return opErr
	})

	assert.Same(t, opErr, err)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestUnitOfWork_ExecuteInTransaction_RollsBackOnPanic(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	assert.PanicsWithValue(t, "boom", func() {
		_ = uow.ExecuteInTransaction(context.Background(), func(context.Context, pgx.Tx) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 0, tx.commits)
}

func TestUnitOfWork_ExecuteInTransaction_BeginFails(t *testing.T) {
	uow, transactor := setupUoW(t)
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(nil, errors.New("pool closed"))

	called := false
	err := uow.ExecuteInTransaction(context.Background(), func(context.Context, pgx.Tx) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.False(t, called)
}

func TestUnitOfWork_ExecuteInTransaction_CommitFails(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{commitErr: deadlock}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	err := uow.ExecuteInTransaction(context.Background(), func(context.Context, pgx.Tx) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit tx")
	assert.True(t, IsTransient(err))
}

func TestUnitOfWork_CommitOutcome(t *testing.T) {
	tests := []struct {
		name        string
		commitErr   error
		wantUnknown bool
		wantCalls   int
	}{
		{name: "connection reset", commitErr: fmt.Errorf("write: %w", syscall.ECONNRESET), wantUnknown: true, wantCalls: 1},
		{name: "unexpected eof", commitErr: io.ErrUnexpectedEOF, wantUnknown: true, wantCalls: 1},
		{name: "connection failure sqlstate", commitErr: &pgconn.PgError{Code: "08006"}, wantUnknown: true, wantCalls: 1},
		{name: "serialization failure", commitErr: &pgconn.PgError{Code: "40001"}, wantCalls: 2},
		{name: "deadlock", commitErr: deadlock, wantCalls: 2},
		{name: "deferred constraint", commitErr: &pgconn.PgError{Code: "23505"}, wantCalls: 1},
		{name: "rolled back", commitErr: pgx.ErrTxCommitRollback, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow, transactor := setupUoW(t)
			first := &mockTx{commitErr: tt.commitErr}
			gomock.InOrder(
				transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(first, nil),
				transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(&mockTx{}, nil).MaxTimes(1),
			)

			calls := 0
			err := uow.ExecuteWithRetry(context.Background(), 3, time.Millisecond, func(context.Context, pgx.Tx) error {
				calls++
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantUnknown {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrCommitOutcomeUnknown)
				assert.ErrorIs(t, err, tt.commitErr)
				assertAppError(t, err, apperror.CodeTransient)
				assert.False(t, IsTransient(err))
				return
			}
			assert.NotErrorIs(t, err, ErrCommitOutcomeUnknown)
			if tt.wantCalls == 2 {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "commit tx")
			}
		})
	}
}

func TestUnitOfWork_ExecuteReadOnly_UsesReadOnlyAccess(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readOnly).Return(tx, nil)

	err := uow.ExecuteReadOnly(context.Background(), func(context.Context, pgx.Tx) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, tx.commits)
}

func TestUnitOfWork_ExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name       string
		failures   []error
		maxRetries int
		wantCalls  int
		wantCode   string
		wantErr    bool
	}{
		{name: "succeeds first time", maxRetries: 3, wantCalls: 1},
		{name: "retries deadlock then succeeds", failures: []error{deadlock, deadlock}, maxRetries: 3, wantCalls: 3},
		{name: "retries connection reset", failures: []error{fmt.Errorf("read: %w", syscall.ECONNRESET)}, maxRetries: 1, wantCalls: 2},
		{
			name:       "does not retry business errors",
			failures:   []error{apperror.ErrInsufficientBalance()},
			maxRetries: 3,
			wantCalls:  1,
			wantCode:   apperror.CodeInsufficientBalance,
			wantErr:    true,
		},
		{
			name:       "exhausts retries",
			failures:   []error{deadlock, deadlock, deadlock},
			maxRetries: 2,
			wantCalls:  3,
			wantCode:   apperror.CodeTransient,
			wantErr:    true,
		},
		{
			name:       "zero retries surfaces transient error",
			failures:   []error{deadlock},
			maxRetries: 0,
			wantCalls:  1,
			wantCode:   apperror.CodeTransient,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow, transactor := setupUoW(t)
			transactor.EXPECT().BeginTx(gomock.Any(), readWrite).
				DoAndReturn(func(context.Context, pgx.TxOptions) (pgx.Tx, error) { return &mockTx{}, nil }).
				Times(tt.wantCalls)

			calls := 0
			err := uow.ExecuteWithRetry(context.Background(), tt.maxRetries, time.Millisecond, func(context.Context, pgx.Tx) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assertAppError(t, err, tt.wantCode)
		})
	}
}

func TestUnitOfWork_ExecuteWithRetry_KeepsLastError(t *testing.T) {
	uow, transactor := setupUoW(t)
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(&mockTx{}, nil).Times(2)

	err := uow.ExecuteWithRetry(context.Background(), 1, time.Millisecond, func(context.Context, pgx.Tx) error {
		return deadlock
	})

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40P01", pgErr.Code)
}

func TestUnitOfWork_ExecuteWithRetry_StopsWhenContextDone(t *testing.T) {
	uow, transactor := setupUoW(t)
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(&mockTx{}, nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := uow.ExecuteWithRetry(ctx, 5, time.Hour, func(context.Context, pgx.Tx) error {
		calls++
		cancel()
		return deadlock
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestUnitOfWork_ExecuteWithTimeout(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	start := time.Now()
	err := uow.ExecuteWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context, _ pgx.Tx) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assertAppError(t, err, apperror.CodeTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnitOfWork_ExecuteWithTimeout_FastOperation(t *testing.T) {
	uow, transactor := setupUoW(t)
	tx := &mockTx{}
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(tx, nil)

	err := uow.ExecuteWithTimeout(context.Background(), time.Second, func(context.Context, pgx.Tx) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, tx.commits)
}

func TestUnitOfWork_ExecuteWithTimeout_PropagatesPanic(t *testing.T) {
	uow, transactor := setupUoW(t)
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(&mockTx{}, nil)

	assert.Panics(t, func() {
		_ = uow.ExecuteWithTimeout(context.Background(), time.Second, func(context.Context, pgx.Tx) error {
			panic("boom")
		})
	})
}

func TestUnitOfWork_Run_RetriesWithinTimeout(t *testing.T) {
	uow, transactor := setupUoW(t)
	transactor.EXPECT().BeginTx(gomock.Any(), readWrite).Return(&mockTx{}, nil).Times(2)

	calls := 0
	err := uow.Run(context.Background(), func(context.Context, pgx.Tx) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "55P03"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnitOfWork_ExecuteInParallel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	uow := NewUnitOfWork(mock, testUoWConfig(), zerolog.Nop())

	mock.ExpectBeginTx(readWrite)
	mock.ExpectQuery("SELECT amount FROM a").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT amount FROM b").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectExec("UPDATE c").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	results, err := uow.ExecuteInParallel(context.Background(),
		func(ctx context.Context, tx pgx.Tx) (any, error) {
			var n int
			err := tx.QueryRow(ctx, "SELECT amount FROM a").Scan(&n)
			return n, err
		},
		func(ctx context.Context, tx pgx.Tx) (any, error) {
			var n int
			err := tx.QueryRow(ctx, "SELECT amount FROM b").Scan(&n)
			return n, err
		},
		func(ctx context.Context, tx pgx.Tx) (any, error) {
			tag, err := tx.Exec(ctx, "UPDATE c")
			return tag.RowsAffected(), err
		},
	)

	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, int64(1)}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_ExecuteInParallel_RollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	uow := NewUnitOfWork(mock, testUoWConfig(), zerolog.Nop())

	mock.ExpectBeginTx(readWrite)
	mock.ExpectExec("UPDATE a").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	failure := apperror.ErrNotFound("wallet")
	results, err := uow.ExecuteInParallel(context.Background(),
		func(ctx context.Context, tx pgx.Tx) (any, error) {
			_, err := tx.Exec(ctx, "UPDATE a")
			return nil, err
		},
		func(context.Context, pgx.Tx) (any, error) {
			return nil, failure
		},
	)

	assert.Nil(t, results)
	assert.ErrorIs(t, err, failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSerialTx_ReleasesAfterScanAndClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT n").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1).AddRow(2))
	mock.ExpectExec("UPDATE").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	shared := &serialTx{Tx: tx}
	ctx := context.Background()

	var n int
	require.NoError(t, shared.QueryRow(ctx, "SELECT 1").Scan(&n))

	rows, err := shared.Query(ctx, "SELECT n")
	require.NoError(t, err)
	for rows.Next() {
		require.NoError(t, rows.Scan(&n))
	}
	rows.Close()
	rows.Close()

	_, err = shared.Exec(ctx, "UPDATE")
	require.NoError(t, err)
	assert.Same(t, tx, shared.Unwrap())
	assert.NoError(t, mock.ExpectationsWereMet())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadlock", err: deadlock, want: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: true},
		{name: "connection exception class", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: false},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "connection reset", err: fmt.Errorf("read tcp: %w", syscall.ECONNRESET), want: true},
		{name: "connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "net timeout", err: fmt.Errorf("query: %w", timeoutErr{}), want: true},
		{name: "wrapped in internal error", err: apperror.InternalError(fmt.Errorf("lock: %w", deadlock)), want: true},
		{name: "transient app error", err: apperror.ErrTransient(errors.New("x")), want: true},
		{name: "not found", err: apperror.ErrNotFound("wallet"), want: false},
		{name: "plain error", err: errors.New("syntax error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
