package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepily/cosa/pkg/models"
)

// Ensure PGNotificationStore implements NotificationStore.
var _ NotificationStore = (*PGNotificationStore)(nil)

// PGNotificationStore persists notifications in the notifications table.
type PGNotificationStore struct {
	pool *pgxpool.Pool
}

// NewPGNotificationStore constructs a store over an existing pool.
func NewPGNotificationStore(pool *pgxpool.Pool) *PGNotificationStore {
	return &PGNotificationStore{pool: pool}
}

const notificationColumns = `id, sender_id, recipient_id, COALESCE(job_id, ''),
	type, priority, message, abstract, response_requested, response_value,
	created_at`

// Insert implements NotificationStore. An empty job id is stored as NULL.
func (s *PGNotificationStore) Insert(ctx context.Context, n models.Notification) error {
	var jobID any
	if n.JobID != "" {
		jobID = n.JobID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, sender_id, recipient_id, job_id,
			type, priority, message, abstract, response_requested,
			response_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.SenderID, n.RecipientID, jobID, n.Type, n.Priority,
		n.Message, n.Abstract, n.ResponseRequested, n.ResponseValue,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notification insert: %w", err)
	}
	return nil
}

// ByJobID implements NotificationStore, newest-first.
func (s *PGNotificationStore) ByJobID(ctx context.Context, jobID string) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE job_id = $1
		 ORDER BY created_at DESC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("notifications by job: %w", err)
	}
	return scanNotifications(rows)
}

// ByRecipient implements NotificationStore, newest-first.
func (s *PGNotificationStore) ByRecipient(ctx context.Context, recipientID string, maxRows int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE recipient_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		recipientID, maxRows,
	)
	if err != nil {
		return nil, fmt.Errorf("notifications by recipient: %w", err)
	}
	return scanNotifications(rows)
}

func scanNotifications(rows pgx.Rows) ([]models.Notification, error) {
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID, &n.SenderID, &n.RecipientID, &n.JobID, &n.Type,
			&n.Priority, &n.Message, &n.Abstract, &n.ResponseRequested,
			&n.ResponseValue, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("notification scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
