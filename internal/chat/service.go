// Package chat implements the message pipeline: validation,
// persistence, and fan-out of a single chat message. The WebSocket
// handler and the REST fallback endpoint both call into the same
// Service, so the two entry points cannot drift apart in preconditions
// or persisted shape.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
)

// maxContentLength bounds message bodies.
const maxContentLength = 5000

// Event names this pipeline emits.
const eventNewMessage = "new_message"

// Rejection is a validation, not-found, or authorization failure. Its
// text is the wire contract: it reaches the initiating client verbatim
// as the error payload, and never anyone else.
type Rejection struct {
	msg string
}

func (r *Rejection) Error() string { return r.msg }

// The distinct rejections, in precondition order.
var (
	ErrMissingFields      = &Rejection{"Chat ID and message content are required"}
	ErrContentTooLong     = &Rejection{"Message content is too long"}
	ErrChatNotFound       = &Rejection{"Chat not found"}
	ErrNotMember          = &Rejection{"Not a member of this chat"}
	ErrReplyNotFound      = &Rejection{"Message to reply to not found"}
	ErrReplyDifferentChat = &Rejection{"Cannot reply to message from different chat"}
)

// Broadcaster is the slice of the room registry the pipeline needs.
type Broadcaster interface {
	BroadcastToChat(chatID uuid.UUID, event string, payload any)
}

// Notifier is the narrow notification capability the pipeline depends
// on. The concrete implementation lives in the notify package; the
// interface here keeps the dependency pointing one way.
type Notifier interface {
	Notify(ctx context.Context, recipient uuid.UUID, kind models.NotificationKind, relatedID, relatedType string, from *uuid.UUID, metadata map[string]any) (*models.Notification, error)
	PushUnreadCount(ctx context.Context, userID uuid.UUID)
}

type Service struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	notifier Notifier
	bcast    Broadcaster
	logger   *zap.Logger
}

func NewService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	notifier Notifier,
	bcast Broadcaster,
	logger *zap.Logger,
) *Service {
	return &Service{
		chats:    chats,
		messages: messages,
		notifier: notifier,
		bcast:    bcast,
		logger:   logger,
	}
}

// SendMessage validates, persists, and fans out one message.
//
// Preconditions run in order and each failure is a distinct
// *Rejection; nothing is persisted or broadcast on any of them. On
// success the persisted message is loaded back enriched (sender name,
// replied-to content) and that view is broadcast to every live
// connection in the chat's group — then for every other member a
// notification is created and a fresh unread count pushed, both
// best-effort. A fanout failure never fails the send: by then the
// message exists and the primary operation has succeeded.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID uuid.UUID, content string, replyTo *int64) (*models.MessageView, error) {
	content = strings.TrimSpace(content)
	if chatID == uuid.Nil || content == "" {
		return nil, ErrMissingFields
	}
	if len(content) > maxContentLength {
		return nil, ErrContentTooLong
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	isMember, err := s.chats.IsMember(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	if replyTo != nil {
		parent, err := s.messages.GetByID(ctx, *replyTo)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, ErrReplyNotFound
		}
		if parent.ChatID != chatID {
			return nil, ErrReplyDifferentChat
		}
	}

	msg, err := s.messages.Create(ctx, chatID, senderID, content, replyTo)
	if err != nil {
		return nil, err
	}

	// Bump last-activity so chat listings sorted by recency see the
	// send. Last-write-wins under concurrent sends, which is fine —
	// every writer is moving the timestamp forward.
	if err := s.chats.Touch(ctx, chatID); err != nil {
		s.logger.Warn("touch chat failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
	}

	view, err := s.messages.GetView(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, fmt.Errorf("message %d not found after insert", msg.ID)
	}

	s.bcast.BroadcastToChat(chatID, eventNewMessage, view)
	s.fanout(ctx, chat, msg, senderID)

	return view, nil
}

// fanout notifies every member other than the sender. Failures are
// logged and swallowed — notification delivery is off the critical
// path of the send.
func (s *Service) fanout(ctx context.Context, chat *models.Chat, msg *models.ChatMessage, senderID uuid.UUID) {
	members, err := s.chats.ListMembers(ctx, chat.ID)
	if err != nil {
		s.logger.Error("list members for fanout failed",
			zap.String("chat_id", chat.ID.String()), zap.Error(err))
		return
	}

	metadata := map[string]any{
		"chatId":   chat.ID.String(),
		"chatName": chat.Name,
	}
	for _, member := range members {
		if member == senderID {
			continue
		}
		if _, err := s.notifier.Notify(ctx, member, models.KindMessage,
			models.RelatedID(msg.ID), "ChatMessage", &senderID, metadata); err != nil {
			s.logger.Error("create message notification failed",
				zap.String("recipient", member.String()), zap.Error(err))
			continue
		}
		s.notifier.PushUnreadCount(ctx, member)
	}
}

// History returns the most recent messages of a chat oldest-first,
// after the same existence and membership gates as a send.
func (s *Service) History(ctx context.Context, userID, chatID uuid.UUID, limit int) ([]models.MessageView, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	isMember, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	return s.messages.ListViews(ctx, chatID, limit)
}
