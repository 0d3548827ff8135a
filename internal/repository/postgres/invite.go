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

type InviteStore struct {
	pool *pgxpool.Pool
}

func NewInviteStore(pool *pgxpool.Pool) *InviteStore {
	return &InviteStore{pool: pool}
}

func (s *InviteStore) CreateBatch(ctx context.Context, chatID, fromUser uuid.UUID, toUsers []uuid.UUID) error {
	if len(toUsers) == 0 {
		return nil
	}

	// One insert per recipient inside a batch: a failed recipient
	// aborts the whole request rather than leaving a partial set.
	batch := &pgx.Batch{}
	query := `
		INSERT INTO chat_invites (id, chat_id, from_user, to_user, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', now())`
	for _, to := range toUsers {
		batch.Queue(query, uuid.New(), chatID, fromUser, to)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range toUsers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert invite: %w", err)
		}
	}
	return nil
}

func (s *InviteStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatInvite, error) {
	query := `
		SELECT id, chat_id, from_user, to_user, status, created_at, responded_at
		FROM chat_invites
		WHERE id = $1`

	var inv models.ChatInvite
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&inv.ID,
		&inv.ChatID,
		&inv.FromUser,
		&inv.ToUser,
		&inv.Status,
		&inv.CreatedAt,
		&inv.RespondedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invite: %w", err)
	}
	return &inv, nil
}

func (s *InviteStore) ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.ChatInvite, error) {
	return s.list(ctx, `to_user`, userID)
}

func (s *InviteStore) ListOutgoing(ctx context.Context, userID uuid.UUID) ([]models.ChatInvite, error) {
	return s.list(ctx, `from_user`, userID)
}

func (s *InviteStore) list(ctx context.Context, column string, userID uuid.UUID) ([]models.ChatInvite, error) {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		SELECT id, chat_id, from_user, to_user, status, created_at, responded_at
		FROM chat_invites
		WHERE %s = $1
		ORDER BY created_at DESC`, column)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]models.ChatInvite, 0)
	for rows.Next() {
		var inv models.ChatInvite
		if err := rows.Scan(
			&inv.ID,
			&inv.ChatID,
			&inv.FromUser,
			&inv.ToUser,
			&inv.Status,
			&inv.CreatedAt,
			&inv.RespondedAt,
		); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

func (s *InviteStore) SetStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_invites
		SET status = $2, responded_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set invite status: %w", err)
	}
	return nil
}
