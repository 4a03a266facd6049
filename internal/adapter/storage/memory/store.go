// Package memory is an in-process storage driver for development and tests.
// It emulates the parts of PostgreSQL the ledger relies on: row locks held until
// commit or rollback, lock-wait timeouts reported as SQLSTATE 55P03, and atomic
// rollback of every write a transaction made. Plain reads do not take locks and
// may observe writes of transactions that have not committed yet.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultLockTimeout mirrors a typical lock_timeout setting.
const DefaultLockTimeout = 2 * time.Second

// FaultFunc is called before every repository operation with its name
// (for example "balances.AddDelta"). A non-nil error aborts the operation.
type FaultFunc func(op string) error

type balanceKey struct {
	walletID uuid.UUID
	token    domain.TokenType
}

type markerKey struct {
	provider string
	eventID  string
}

type rowLock struct {
	owner    *Tx
	released chan struct{}
}

// Store holds every table of the ledger in memory.
type Store struct {
	mu sync.Mutex

	wallets  map[uuid.UUID]domain.Wallet
	balances map[balanceKey]domain.WalletBalance
	txns     map[uuid.UUID]domain.Transaction
	orders   map[uuid.UUID]domain.RampOrder
	markers  map[markerKey]domain.ProcessedNotification

	locks       map[string]*rowLock
	lockTimeout time.Duration
	fault       FaultFunc
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		wallets:     make(map[uuid.UUID]domain.Wallet),
		balances:    make(map[balanceKey]domain.WalletBalance),
		txns:        make(map[uuid.UUID]domain.Transaction),
		orders:      make(map[uuid.UUID]domain.RampOrder),
		markers:     make(map[markerKey]domain.ProcessedNotification),
		locks:       make(map[string]*rowLock),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault installs or clears (nil) the fault injection hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Store) injected(op string) error {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(op)
}

// Balances returns a copy of every balance row ordered by wallet and token.
func (s *Store) Balances() []domain.WalletBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WalletBalance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WalletID != out[j].WalletID {
			return out[i].WalletID.String() < out[j].WalletID.String()
		}
		return out[i].TokenType < out[j].TokenType
	})
	return out
}

// Ping reports the store as healthy.
func (s *Store) Ping(_ context.Context) error { return nil }

// Name returns the health check name.
func (s *Store) Name() string { return "memory" }

// lock acquires the row lock key for tx, waiting up to the lock timeout.
// Locks are re-entrant for their owner.
func (s *Store) lock(ctx context.Context, tx *Tx, key string) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		l, ok := s.locks[key]
		if !ok {
			s.locks[key] = &rowLock{owner: tx, released: make(chan struct{})}
			tx.held = append(tx.held, key)
			s.mu.Unlock()
			return nil
		}
		if l.owner == tx {
			s.mu.Unlock()
			return nil
		}
		wait := l.released
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return &pgconn.PgError{
				Code:    "55P03",
				Message: fmt.Sprintf("could not obtain lock on row %s", key),
			}
		}
	}
}

// releaseLocked frees every lock tx holds. s.mu must be held.
func (s *Store) releaseLocked(tx *Tx) {
	for _, key := range tx.held {
		if l, ok := s.locks[key]; ok && l.owner == tx {
			delete(s.locks, key)
			close(l.released)
		}
	}
	tx.held = nil
}

func walletLockKey(id uuid.UUID) string { return "wallets:" + id.String() }

func balanceLockKey(k balanceKey) string {
	return "wallet_balances:" + k.walletID.String() + ":" + string(k.token)
}

func txnLockKey(id uuid.UUID) string   { return "transactions:" + id.String() }
func orderLockKey(id uuid.UUID) string { return "ramp_orders:" + id.String() }

func markerLockKey(k markerKey) string {
	return "processed_notifications:" + k.provider + ":" + k.eventID
}
