package postgres

import (
	"context"
	"errors"
	"fmt"

	"custodial-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// NotificationRepo implements ports.ProcessedNotificationRepository.
type NotificationRepo struct {
	pool Pool
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(pool Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// Insert records a provider event within a database transaction.
// A concurrent insert of the same event blocks on the primary key until the first
// transaction ends, then reports false.
func (r *NotificationRepo) Insert(ctx context.Context, tx pgx.Tx, m *domain.ProcessedNotification) (bool, error) {
	query := `INSERT INTO processed_notifications (provider, event_id, ramp_order_id, outcome, reason, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, m.Provider, m.EventID, m.RampOrderID, m.Outcome, m.Reason, m.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert processed notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches a marker by provider and event id.
func (r *NotificationRepo) Get(ctx context.Context, tx pgx.Tx, provider, eventID string) (*domain.ProcessedNotification, error) {
	query := `SELECT provider, event_id, ramp_order_id, outcome, reason, processed_at
		FROM processed_notifications WHERE provider = $1 AND event_id = $2`

	m := &domain.ProcessedNotification{}
	err := conn(r.pool, tx).QueryRow(ctx, query, provider, eventID).Scan(
		&m.Provider, &m.EventID, &m.RampOrderID, &m.Outcome, &m.Reason, &m.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get processed notification: %w", err)
	}
	return m, nil
}

// UpdateOutcome stores the final outcome once the notification has been handled.
func (r *NotificationRepo) UpdateOutcome(ctx context.Context, tx pgx.Tx, m *domain.ProcessedNotification) error {
	query := `UPDATE processed_notifications SET ramp_order_id = $1, outcome = $2, reason = $3
		WHERE provider = $4 AND event_id = $5`

	tag, err := tx.Exec(ctx, query, m.RampOrderID, m.Outcome, m.Reason, m.Provider, m.EventID)
	if err != nil {
		return fmt.Errorf("update processed notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processed notification not found: %s/%s", m.Provider, m.EventID)
	}
	return nil
}
