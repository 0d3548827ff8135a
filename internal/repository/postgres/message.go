package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tidepool/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, chatID, senderID uuid.UUID, content string, replyTo *int64) (*models.ChatMessage, error) {
	// Messages use bigserial, so Postgres generates the ID; RETURNING
	// gives it back together with the server-side timestamp.
	query := `
		INSERT INTO chat_messages (chat_id, sender_id, content, reply_to, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, chat_id, sender_id, content, reply_to, created_at`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, chatID, senderID, content, replyTo).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.ReplyTo,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	query := `
		SELECT id, chat_id, sender_id, content, reply_to, created_at
		FROM chat_messages
		WHERE id = $1`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, messageID).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.ReplyTo,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// viewColumns joins the sender and the optional replied-to message in
// one round trip. LEFT JOINs keep the row even when the sender account
// was deleted (username comes back empty) or the message is not a reply.
const viewColumns = `
	SELECT m.id, m.chat_id, m.sender_id, m.content, m.reply_to, m.created_at,
	       COALESCE(su.username, ''),
	       r.id, r.content, r.sender_id, COALESCE(ru.username, ''), r.created_at
	FROM chat_messages m
	LEFT JOIN users su ON su.id = m.sender_id
	LEFT JOIN chat_messages r ON r.id = m.reply_to
	LEFT JOIN users ru ON ru.id = r.sender_id`

func scanView(row pgx.Row) (*models.MessageView, error) {
	var v models.MessageView
	var (
		replyID        *int64
		replyContent   *string
		replySender    *uuid.UUID
		replyUsername  *string
		replyCreatedAt *time.Time
	)
	err := row.Scan(
		&v.ID,
		&v.ChatID,
		&v.SenderID,
		&v.Content,
		&v.ReplyTo,
		&v.CreatedAt,
		&v.SenderName,
		&replyID,
		&replyContent,
		&replySender,
		&replyUsername,
		&replyCreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if replyID != nil {
		reply := models.ReplyView{ID: *replyID}
		if replyContent != nil {
			reply.Content = *replyContent
		}
		if replySender != nil {
			reply.SenderID = *replySender
		}
		if replyUsername != nil {
			reply.SenderName = *replyUsername
		}
		if replyCreatedAt != nil {
			reply.CreatedAt = *replyCreatedAt
		}
		v.Reply = &reply
	}
	return &v, nil
}

func (s *MessageStore) GetView(ctx context.Context, messageID int64) (*models.MessageView, error) {
	row := s.pool.QueryRow(ctx, viewColumns+` WHERE m.id = $1`, messageID)
	v, err := scanView(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message view: %w", err)
	}
	return v, nil
}

// ListViews returns the newest `limit` messages of a chat, reordered
// oldest-first for display.
func (s *MessageStore) ListViews(ctx context.Context, chatID uuid.UUID, limit int) ([]models.MessageView, error) {
	query := viewColumns + `
	WHERE m.chat_id = $1
	ORDER BY m.id DESC
	LIMIT $2`

	rows, err := s.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	views := make([]models.MessageView, 0)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message view: %w", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Query ran newest-first to apply the limit; flip to oldest-first.
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views, nil
}
