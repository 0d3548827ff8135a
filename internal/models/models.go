package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account in the community.
//
// Why uuid.UUID and not string?
//   - Type safety. You can't accidentally pass a chat ID where a user ID
//     is expected.
//
// PasswordHash carries the bcrypt hash; json:"-" keeps it out of every
// API response no matter which handler serializes the struct.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is a named group of members who exchange messages.
//
// UpdatedAt is the last-activity timestamp: bumped on every message
// send so chat listings sorted by recency reflect new traffic.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatorID uuid.UUID `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMember is the join table between chats and users. JoinedAt
// preserves insertion order when listing members.
type ChatMember struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatMessage is a single message in a chat.
//
// Why int64 for ID (not UUID)?
//   - Messages are the highest-volume table. bigserial is smaller,
//     naturally ordered (higher ID = newer), and index-friendly.
//
// ReplyTo references another message in the SAME chat; a cross-chat
// reply is rejected before the row is ever inserted. Messages are
// immutable after creation.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	ReplyTo   *int64    `json:"reply_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageView is the denormalized read of a ChatMessage that goes over
// the wire: sender username resolved, and — when the message is a
// reply — the replied-to message's content and sender name inlined.
// Handlers return this; the row stays dumb.
type MessageView struct {
	ChatMessage
	SenderName string     `json:"sender_name"`
	Reply      *ReplyView `json:"reply,omitempty"`
}

// ReplyView is the inlined slice of the replied-to message.
type ReplyView struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// InviteStatus is the lifecycle of a ChatInvite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// ChatInvite asks a user to join a chat. Membership is mutated only by
// explicit join/leave/invite-accept operations, never by message sends.
type ChatInvite struct {
	ID          uuid.UUID    `json:"id"`
	ChatID      uuid.UUID    `json:"chat_id"`
	FromUser    uuid.UUID    `json:"from_user"`
	ToUser      uuid.UUID    `json:"to_user"`
	Status      InviteStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	RespondedAt *time.Time   `json:"responded_at,omitempty"`
}

// NotificationKind is the closed set of events that produce a
// persisted notification.
type NotificationKind string

const (
	KindMessage    NotificationKind = "message"
	KindChatInvite NotificationKind = "chat_invite"
	KindComment    NotificationKind = "comment"
	KindVote       NotificationKind = "vote"
	KindFollow     NotificationKind = "follow"
	KindNewPost    NotificationKind = "new_post"
)

// Notification is a persisted record for one recipient.
//
// RelatedID is a polymorphic reference (message ids are int64,
// chats/users are uuid), so it is stored as text alongside the
// RelatedType tag. FromUser is never equal to UserID — self-notifying
// events are dropped before a row is created.
type Notification struct {
	ID          int64            `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Kind        NotificationKind `json:"kind"`
	Read        bool             `json:"read"`
	RelatedID   string           `json:"related_id"`
	RelatedType string           `json:"related_type"`
	FromUser    *uuid.UUID       `json:"from_user,omitempty"`
	Metadata    map[string]any   `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NotificationView is a Notification with the origin username resolved
// for display. Pushed as the new_notification payload.
type NotificationView struct {
	Notification
	FromUsername string `json:"from_username,omitempty"`
}
