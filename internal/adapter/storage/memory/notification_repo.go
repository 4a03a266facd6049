package memory

import (
	"context"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// NotificationRepo implements ports.ProcessedNotificationRepository.
type NotificationRepo struct {
	store *Store
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(store *Store) *NotificationRepo {
	return &NotificationRepo{store: store}
}

// Insert records a provider event. Like a primary key, the marker's row lock makes
// a concurrent insert of the same event wait for the first transaction to end;
// it then reports false, or inserts if the first transaction rolled back.
func (r *NotificationRepo) Insert(ctx context.Context, tx pgx.Tx, m *domain.ProcessedNotification) (bool, error) {
	s := r.store
	mtx, err := s.begin(tx, "processed_notifications.Insert", true)
	if err != nil {
		return false, err
	}
	key := markerKey{provider: m.Provider, eventID: m.EventID}
	if err := s.lock(ctx, mtx, markerLockKey(key)); err != nil {
		return false, fmt.Errorf("insert processed notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[key]; ok {
		return false, nil
	}
	s.markers[key] = *m
	mtx.record(func() { delete(s.markers, key) })
	return true, nil
}

// Get fetches a marker by provider and event id.
func (r *NotificationRepo) Get(_ context.Context, tx pgx.Tx, provider, eventID string) (*domain.ProcessedNotification, error) {
	s := r.store
	if _, err := s.begin(tx, "processed_notifications.Get", false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[markerKey{provider: provider, eventID: eventID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// UpdateOutcome stores the final outcome once the notification has been handled.
func (r *NotificationRepo) UpdateOutcome(ctx context.Context, tx pgx.Tx, m *domain.ProcessedNotification) error {
	s := r.store
	mtx, err := s.begin(tx, "processed_notifications.UpdateOutcome", true)
	if err != nil {
		return err
	}
	key := markerKey{provider: m.Provider, eventID: m.EventID}
	if err := s.lock(ctx, mtx, markerLockKey(key)); err != nil {
		return fmt.Errorf("update processed notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.markers[key]
	if !ok {
		return fmt.Errorf("processed notification not found: %s/%s", m.Provider, m.EventID)
	}
	next := prev
	next.RampOrderID = m.RampOrderID
	next.Outcome = m.Outcome
	next.Reason = m.Reason
	s.markers[key] = next
	mtx.record(func() { s.markers[key] = prev })
	return nil
}
