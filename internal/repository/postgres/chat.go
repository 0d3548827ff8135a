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

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// Create inserts the chat and the creator's membership in one
// transaction. The creator-is-always-a-member invariant holds from the
// first moment the row is visible.
func (s *ChatStore) Create(ctx context.Context, name string, creatorID uuid.UUID) (*models.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chats (name, creator_id, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING id, name, creator_id, created_at, updated_at`

	var ch models.Chat
	err = tx.QueryRow(ctx, query, name, creatorID).Scan(
		&ch.ID,
		&ch.Name,
		&ch.CreatorID,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id, joined_at)
		VALUES ($1, $2, now())`, ch.ID, creatorID)
	if err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chat create: %w", err)
	}
	return &ch, nil
}

func (s *ChatStore) GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	query := `
		SELECT id, name, creator_id, created_at, updated_at
		FROM chats
		WHERE id = $1`

	var ch models.Chat
	err := s.pool.QueryRow(ctx, query, chatID).Scan(
		&ch.ID,
		&ch.Name,
		&ch.CreatorID,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &ch, nil
}

// ListByMember returns the chats a user belongs to, most recently
// active first — updated_at is bumped on every send, so this is the
// inbox ordering.
func (s *ChatStore) ListByMember(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	query := `
		SELECT c.id, c.name, c.creator_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var ch models.Chat
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.CreatorID, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

func (s *ChatStore) Touch(ctx context.Context, chatID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// AddMember is idempotent: ON CONFLICT DO NOTHING turns a duplicate
// join into a silent no-op instead of a primary-key violation.
func (s *ChatStore) AddMember(ctx context.Context, chatID, userID uuid.UUID) error {
	query := `
		INSERT INTO chat_members (chat_id, user_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chat_id, user_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, chatID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes zero rows for a non-member — leave is naturally
// idempotent.
func (s *ChatStore) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	query := `
		DELETE FROM chat_members
		WHERE chat_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, chatID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *ChatStore) ListMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM chat_members
		WHERE chat_id = $1
		ORDER BY joined_at`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *ChatStore) ListMemberUsers(ctx context.Context, chatID uuid.UUID) ([]models.User, error) {
	query := `
		SELECT u.id, u.email, u.username, u.password_hash, u.created_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.joined_at`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list member users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member users: %w", err)
	}
	return users, nil
}

func (s *ChatStore) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	// EXISTS stops at the first matching row; this runs before every
	// message send and room subscribe.
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_members
			WHERE chat_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}
