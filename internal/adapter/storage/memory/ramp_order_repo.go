package memory

import (
	"context"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RampOrderRepo implements ports.RampOrderRepository.
type RampOrderRepo struct {
	store *Store
}

// NewRampOrderRepo creates a new RampOrderRepo.
func NewRampOrderRepo(store *Store) *RampOrderRepo {
	return &RampOrderRepo{store: store}
}

func (r *RampOrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.RampOrder) error {
	s := r.store
	mtx, err := s.begin(tx, "ramp_orders.Create", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, orderLockKey(o.ID)); err != nil {
		return fmt.Errorf("insert ramp order: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("insert ramp order: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"ramp_orders_pkey\""})
	}
	id := o.ID
	s.orders[id] = cloneOrder(*o)
	mtx.record(func() { delete(s.orders, id) })
	return nil
}

func (r *RampOrderRepo) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RampOrder, error) {
	if _, err := r.store.begin(tx, "ramp_orders.GetByID", false); err != nil {
		return nil, err
	}
	return r.read(id), nil
}

// GetByProviderTxIDForUpdate locks the order the provider already knows by its own id.
func (r *RampOrderRepo) GetByProviderTxIDForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, providerTxID string) (*domain.RampOrder, error) {
	return r.findForUpdate(ctx, tx, "ramp_orders.GetByProviderTxIDForUpdate", func(o *domain.RampOrder) bool {
		return o.Provider == provider && o.ProviderTransactionID != nil && *o.ProviderTransactionID == providerTxID
	})
}

// FindPendingByCorrelationForUpdate locks the most recent PENDING order matching the correlation key.
func (r *RampOrderRepo) FindPendingByCorrelationForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, correlationKey string) (*domain.RampOrder, error) {
	return r.findForUpdate(ctx, tx, "ramp_orders.FindPendingByCorrelationForUpdate", func(o *domain.RampOrder) bool {
		return o.Provider == provider && o.Status == domain.RampStatusPending && o.CorrelationKey() == correlationKey
	})
}

// findForUpdate picks the newest matching order, locks it and re-checks the
// predicate against the row as it stands once the lock is held.
func (r *RampOrderRepo) findForUpdate(ctx context.Context, tx pgx.Tx, op string, match func(*domain.RampOrder) bool) (*domain.RampOrder, error) {
	s := r.store
	mtx, err := s.begin(tx, op, true)
	if err != nil {
		return nil, err
	}

	for {
		id, ok := r.newest(match)
		if !ok {
			return nil, nil
		}
		if err := s.lock(ctx, mtx, orderLockKey(id)); err != nil {
			return nil, fmt.Errorf("select ramp order for update: %w", err)
		}
		o := r.read(id)
		if o != nil && match(o) {
			return o, nil
		}
		// The row changed while we waited; look again.
	}
}

func (r *RampOrderRepo) newest(match func(*domain.RampOrder) bool) (uuid.UUID, bool) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  uuid.UUID
		found bool
		bestO domain.RampOrder
	)
	for id, o := range s.orders {
		if !match(&o) {
			continue
		}
		if !found || o.CreatedAt.After(bestO.CreatedAt) {
			best, bestO, found = id, o, true
		}
	}
	return best, found
}

func (r *RampOrderRepo) read(id uuid.UUID) *domain.RampOrder {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	o = cloneOrder(o)
	return &o
}

// Update persists everything a notification may change.
func (r *RampOrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.RampOrder) error {
	s := r.store
	mtx, err := s.begin(tx, "ramp_orders.Update", true)
	if err != nil {
		return err
	}
	if err := s.lock(ctx, mtx, orderLockKey(o.ID)); err != nil {
		return fmt.Errorf("update ramp order: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("ramp order not found: %s", o.ID)
	}
	id := o.ID
	s.orders[id] = cloneOrder(*o)
	mtx.record(func() { s.orders[id] = prev })
	return nil
}

func cloneOrder(o domain.RampOrder) domain.RampOrder {
	if o.Metadata != nil {
		md := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			md[k] = v
		}
		o.Metadata = md
	}
	return o
}
