package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/models"
)

// Every method takes context.Context first: all of these touch the
// network, and a cancelled request should cancel its queries.
// Stores return nil, nil for "not found" so callers distinguish
// absence from infrastructure failure without sentinel gymnastics.

// ChatRepository handles chat rows and their member sets.
type ChatRepository interface {
	// Create inserts a chat and its creator's membership in one
	// transaction — a chat is never observable without its creator
	// as a member.
	Create(ctx context.Context, name string, creatorID uuid.UUID) (*models.Chat, error)

	// GetByID returns a single chat. Returns nil, nil if not found.
	GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)

	// ListByMember returns the chats a user belongs to, most recent
	// activity first.
	ListByMember(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)

	// Touch bumps the chat's last-activity timestamp to now.
	Touch(ctx context.Context, chatID uuid.UUID) error

	// AddMember is idempotent: adding an existing member is a no-op.
	AddMember(ctx context.Context, chatID, userID uuid.UUID) error

	// RemoveMember is idempotent: removing a non-member is a no-op.
	RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error

	// ListMembers returns member ids in join order.
	ListMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)

	// ListMemberUsers returns member user rows in join order, for
	// responses that need usernames populated.
	ListMemberUsers(ctx context.Context, chatID uuid.UUID) ([]models.User, error)

	// IsMember is the hot-path check run before every send and every
	// room subscribe.
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt
	// populated. Content is stored as given — trimming is the
	// pipeline's job.
	Create(ctx context.Context, chatID, senderID uuid.UUID, content string, replyTo *int64) (*models.ChatMessage, error)

	// GetByID returns a message row. Returns nil, nil if not found.
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)

	// GetView loads a message enriched with sender username and, when
	// it is a reply, the replied-to message's content and sender name.
	// This is the shape broadcast to clients.
	GetView(ctx context.Context, messageID int64) (*models.MessageView, error)

	// ListViews returns the newest messages of a chat, oldest first,
	// capped at limit.
	ListViews(ctx context.Context, chatID uuid.UUID, limit int) ([]models.MessageView, error)
}

// NotificationRepository handles the persisted notification log.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)

	GetByID(ctx context.Context, id int64) (*models.Notification, error)

	// List returns a user's notifications, newest first, optionally
	// unread-only.
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.NotificationView, error)

	// CountUnread recomputes the unread projection from the rows every
	// time — never incrementally maintained, so it can't drift.
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)

	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context, userID uuid.UUID) error
}

// InviteRepository handles chat invites.
type InviteRepository interface {
	// CreateBatch inserts one pending invite per recipient.
	CreateBatch(ctx context.Context, chatID, fromUser uuid.UUID, toUsers []uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatInvite, error)

	// ListIncoming / ListOutgoing return invites newest first.
	ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.ChatInvite, error)
	ListOutgoing(ctx context.Context, userID uuid.UUID) ([]models.ChatInvite, error)

	// SetStatus records the response and its timestamp.
	SetStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus) error
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, email, username, passwordHash string) (*models.User, error)

	// GetByID returns nil, nil when the user does not exist — callers
	// on the socket path tolerate that (a session can proceed without
	// a display name).
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByUsernames resolves usernames (case-insensitive) to ids for
	// invite-by-name.
	GetByUsernames(ctx context.Context, usernames []string) ([]models.User, error)
}
