package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tidepool/internal/models"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	// metadata goes through pgx's native map → jsonb encoding.
	query := `
		INSERT INTO notifications (user_id, kind, read, related_id, related_type, from_user, metadata, created_at)
		VALUES ($1, $2, false, $3, $4, $5, $6, now())
		RETURNING id, read, created_at`

	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	out := *n
	err := s.pool.QueryRow(ctx, query,
		n.UserID, n.Kind, n.RelatedID, n.RelatedType, n.FromUser, metadata,
	).Scan(&out.ID, &out.Read, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	out.Metadata = metadata
	return &out, nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id int64) (*models.Notification, error) {
	query := `
		SELECT id, user_id, kind, read, related_id, related_type, from_user, metadata, created_at
		FROM notifications
		WHERE id = $1`

	var n models.Notification
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.UserID,
		&n.Kind,
		&n.Read,
		&n.RelatedID,
		&n.RelatedType,
		&n.FromUser,
		&n.Metadata,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// List returns a user's notifications newest first, with the origin
// username resolved in the same round trip.
func (s *NotificationStore) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.NotificationView, error) {
	query := `
		SELECT n.id, n.user_id, n.kind, n.read, n.related_id, n.related_type,
		       n.from_user, n.metadata, n.created_at, COALESCE(u.username, '')
		FROM notifications n
		LEFT JOIN users u ON u.id = n.from_user
		WHERE n.user_id = $1 AND ($2 = false OR n.read = false)
		ORDER BY n.created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	views := make([]models.NotificationView, 0)
	for rows.Next() {
		var v models.NotificationView
		if err := rows.Scan(
			&v.ID,
			&v.UserID,
			&v.Kind,
			&v.Read,
			&v.RelatedID,
			&v.RelatedType,
			&v.FromUser,
			&v.Metadata,
			&v.CreatedAt,
			&v.FromUsername,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return views, nil
}

// CountUnread recomputes the projection from the rows on every call.
// An incrementally maintained counter would drift under concurrent
// creates and reads; a COUNT over (user_id, read) is indexed and cheap.
func (s *NotificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM notifications
		WHERE user_id = $1 AND read = false`

	var count int
	err := s.pool.QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (s *NotificationStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) DeleteAll(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete all notifications: %w", err)
	}
	return nil
}
