// Package notify persists notifications and pushes them to live
// connections. Persistence is the durable record; the live push is
// best-effort and never surfaces a failure to whatever triggered it.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/cache"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
)

// Event names pushed to a recipient's personal group.
const (
	eventNewNotification   = "new_notification"
	eventNotificationCount = "notification_count"
)

// kindInfo pins each notification kind to its related-entity type and
// a display template. The table is the single place the kind set is
// enumerated, so adding a kind without deciding its display shape is a
// compile-plus-test failure, not a scattered conditional.
type kindInfo struct {
	relatedType string
	template    string
}

var kinds = map[models.NotificationKind]kindInfo{
	models.KindMessage:    {relatedType: "ChatMessage", template: "%s sent you a message"},
	models.KindChatInvite: {relatedType: "Chat", template: "%s invited you to a chat"},
	models.KindComment:    {relatedType: "Comment", template: "%s commented on your post"},
	models.KindVote:       {relatedType: "Post", template: "%s voted on your post"},
	models.KindFollow:     {relatedType: "User", template: "%s followed you"},
	models.KindNewPost:    {relatedType: "Post", template: "%s published a new post"},
}

// KindRelatedType returns the related-entity type tag for a kind, and
// whether the kind is known at all.
func KindRelatedType(kind models.NotificationKind) (string, bool) {
	info, ok := kinds[kind]
	return info.relatedType, ok
}

// DisplayText renders the human-readable line for a notification.
func DisplayText(kind models.NotificationKind, fromUsername string) string {
	info, ok := kinds[kind]
	if !ok {
		return ""
	}
	if fromUsername == "" {
		fromUsername = "Someone"
	}
	return fmt.Sprintf(info.template, fromUsername)
}

// Pusher is the slice of the room registry the notifier needs:
// personal-group delivery plus a liveness check.
type Pusher interface {
	BroadcastToUser(userID uuid.UUID, event string, payload any)
	UserConnected(userID uuid.UUID) bool
}

type Notifier struct {
	store  repository.NotificationRepository
	users  repository.UserRepository
	names  *cache.Usernames
	pusher Pusher
	logger *zap.Logger
}

func New(
	store repository.NotificationRepository,
	users repository.UserRepository,
	names *cache.Usernames,
	pusher Pusher,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		store:  store,
		users:  users,
		names:  names,
		pusher: pusher,
		logger: logger,
	}
}

// Notify persists a notification for the recipient and, if they have a
// live connection, pushes it immediately.
//
// A self-notifying event (from == recipient) is a no-op returning
// nil, nil — the one case where nothing was created and nothing went
// wrong. Persistence is attempted whether or not the recipient is
// online; the push is best-effort on top of the durable record.
func (n *Notifier) Notify(ctx context.Context, recipient uuid.UUID, kind models.NotificationKind, relatedID, relatedType string, from *uuid.UUID, metadata map[string]any) (*models.Notification, error) {
	if from != nil && *from == recipient {
		return nil, nil
	}
	if _, ok := kinds[kind]; !ok {
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}

	created, err := n.store.Create(ctx, &models.Notification{
		UserID:      recipient,
		Kind:        kind,
		RelatedID:   relatedID,
		RelatedType: relatedType,
		FromUser:    from,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if n.pusher.UserConnected(recipient) {
		view := models.NotificationView{Notification: *created}
		if from != nil {
			view.FromUsername = n.resolveUsername(ctx, *from)
		}
		n.pusher.BroadcastToUser(recipient, eventNewNotification, view)
	}

	return created, nil
}

// PushUnreadCount recomputes the recipient's unread count and pushes
// it to their personal group. Always a fresh count query — an
// incrementally maintained number would drift under concurrent
// creates and reads. Failures are logged and swallowed: the count is
// a side channel, never the primary operation.
func (n *Notifier) PushUnreadCount(ctx context.Context, userID uuid.UUID) {
	if !n.pusher.UserConnected(userID) {
		return
	}
	count, err := n.store.CountUnread(ctx, userID)
	if err != nil {
		n.logger.Error("count unread failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	n.pusher.BroadcastToUser(userID, eventNotificationCount, map[string]int{"count": count})
}

func (n *Notifier) resolveUsername(ctx context.Context, userID uuid.UUID) string {
	if name, ok := n.names.Get(ctx, userID); ok {
		return name
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return ""
	}
	n.names.Set(ctx, userID, user.Username)
	return user.Username
}
