package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotificationStore struct {
	nextID    int64
	rows      map[int64]*models.Notification
	failNext  error
	countErrs error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{nextID: 1, rows: make(map[int64]*models.Notification)}
}

func (f *fakeNotificationStore) Create(_ context.Context, n *models.Notification) (*models.Notification, error) {
	if f.failNext != nil {
		return nil, f.failNext
	}
	row := *n
	row.ID = f.nextID
	row.CreatedAt = time.Now()
	f.nextID++
	f.rows[row.ID] = &row
	return &row, nil
}

func (f *fakeNotificationStore) GetByID(_ context.Context, id int64) (*models.Notification, error) {
	return f.rows[id], nil
}

func (f *fakeNotificationStore) List(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.NotificationView, error) {
	out := make([]models.NotificationView, 0)
	for id := f.nextID - 1; id >= 1 && len(out) < limit; id-- {
		row, ok := f.rows[id]
		if !ok || row.UserID != userID {
			continue
		}
		if unreadOnly && row.Read {
			continue
		}
		out = append(out, models.NotificationView{Notification: *row})
	}
	return out, nil
}

func (f *fakeNotificationStore) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	if f.countErrs != nil {
		return 0, f.countErrs
	}
	count := 0
	for _, row := range f.rows {
		if row.UserID == userID && !row.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotificationStore) MarkRead(_ context.Context, id int64) error {
	if row, ok := f.rows[id]; ok {
		row.Read = true
	}
	return nil
}

func (f *fakeNotificationStore) MarkAllRead(_ context.Context, userID uuid.UUID) error {
	for _, row := range f.rows {
		if row.UserID == userID {
			row.Read = true
		}
	}
	return nil
}

func (f *fakeNotificationStore) Delete(_ context.Context, id int64) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeNotificationStore) DeleteAll(_ context.Context, userID uuid.UUID) error {
	for id, row := range f.rows {
		if row.UserID == userID {
			delete(f.rows, id)
		}
	}
	return nil
}

type fakeUserStore struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUserStore) Create(_ context.Context, email, username, passwordHash string) (*models.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeUserStore) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	return f.users[userID], nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return nil, nil
}

func (f *fakeUserStore) GetByUsernames(_ context.Context, usernames []string) ([]models.User, error) {
	return nil, nil
}

type pushCall struct {
	userID  uuid.UUID
	event   string
	payload any
}

type fakePusher struct {
	online map[uuid.UUID]bool
	pushes []pushCall
}

func (f *fakePusher) BroadcastToUser(userID uuid.UUID, event string, payload any) {
	f.pushes = append(f.pushes, pushCall{userID, event, payload})
}

func (f *fakePusher) UserConnected(userID uuid.UUID) bool {
	return f.online[userID]
}

func newNotifier(store *fakeNotificationStore, users *fakeUserStore, pusher *fakePusher) *Notifier {
	if users == nil {
		users = &fakeUserStore{users: make(map[uuid.UUID]*models.User)}
	}
	// nil username cache: every lookup is a miss, which is exactly the
	// degraded mode the notifier must survive.
	return New(store, users, nil, pusher, zap.NewNop())
}

func TestNotify_SelfNotifyIsNoop(t *testing.T) {
	store := newFakeNotificationStore()
	pusher := &fakePusher{online: map[uuid.UUID]bool{}}
	n := newNotifier(store, nil, pusher)

	user := uuid.New()
	created, err := n.Notify(context.Background(), user, models.KindMessage, "1", "ChatMessage", &user, nil)
	require.NoError(t, err)
	assert.Nil(t, created)
	assert.Empty(t, store.rows, "no row for a self-notification")
	assert.Empty(t, pusher.pushes)
}

func TestNotify_UnknownKind(t *testing.T) {
	store := newFakeNotificationStore()
	pusher := &fakePusher{online: map[uuid.UUID]bool{}}
	n := newNotifier(store, nil, pusher)

	_, err := n.Notify(context.Background(), uuid.New(), models.NotificationKind("mystery"), "1", "X", nil, nil)
	assert.Error(t, err)
	assert.Empty(t, store.rows)
}

func TestNotify_PersistsWhileOffline(t *testing.T) {
	store := newFakeNotificationStore()
	pusher := &fakePusher{online: map[uuid.UUID]bool{}}
	n := newNotifier(store, nil, pusher)

	recipient := uuid.New()
	from := uuid.New()
	created, err := n.Notify(context.Background(), recipient, models.KindChatInvite,
		models.RelatedUUID(uuid.New()), "Chat", &from, map[string]any{"chatName": "room"})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, recipient, created.UserID)
	assert.Equal(t, models.KindChatInvite, created.Kind)
	assert.False(t, created.Read)
	assert.Len(t, store.rows, 1, "the row is the durable record")
	assert.Empty(t, pusher.pushes, "no push to an offline recipient")
}

func TestNotify_PushesWhenConnected(t *testing.T) {
	store := newFakeNotificationStore()
	recipient := uuid.New()
	from := uuid.New()
	users := &fakeUserStore{users: map[uuid.UUID]*models.User{
		from: {ID: from, Username: "mira"},
	}}
	pusher := &fakePusher{online: map[uuid.UUID]bool{recipient: true}}
	n := newNotifier(store, users, pusher)

	created, err := n.Notify(context.Background(), recipient, models.KindMessage, "7", "ChatMessage", &from, nil)
	require.NoError(t, err)
	require.NotNil(t, created)

	require.Len(t, pusher.pushes, 1)
	push := pusher.pushes[0]
	assert.Equal(t, recipient, push.userID)
	assert.Equal(t, "new_notification", push.event)

	view, ok := push.payload.(models.NotificationView)
	require.True(t, ok)
	assert.Equal(t, created.ID, view.ID)
	assert.Equal(t, "mira", view.FromUsername)
}

func TestNotify_MissingFromUserStillPushes(t *testing.T) {
	store := newFakeNotificationStore()
	recipient := uuid.New()
	from := uuid.New() // not in the user store
	pusher := &fakePusher{online: map[uuid.UUID]bool{recipient: true}}
	n := newNotifier(store, nil, pusher)

	_, err := n.Notify(context.Background(), recipient, models.KindFollow,
		models.RelatedUUID(from), "User", &from, nil)
	require.NoError(t, err)

	require.Len(t, pusher.pushes, 1)
	view := pusher.pushes[0].payload.(models.NotificationView)
	assert.Empty(t, view.FromUsername, "unresolvable sender degrades to empty, not an error")
}

func TestPushUnreadCount_SkipsOffline(t *testing.T) {
	store := newFakeNotificationStore()
	store.countErrs = errors.New("count should never run for an offline user")
	pusher := &fakePusher{online: map[uuid.UUID]bool{}}
	n := newNotifier(store, nil, pusher)

	n.PushUnreadCount(context.Background(), uuid.New())
	assert.Empty(t, pusher.pushes)
}

func TestPushUnreadCount_RecomputesFromRows(t *testing.T) {
	store := newFakeNotificationStore()
	recipient := uuid.New()
	from := uuid.New()
	pusher := &fakePusher{online: map[uuid.UUID]bool{recipient: true}}
	n := newNotifier(store, nil, pusher)

	for i := 0; i < 3; i++ {
		_, err := n.Notify(context.Background(), recipient, models.KindMessage, "1", "ChatMessage", &from, nil)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkRead(context.Background(), 1))

	pusher.pushes = nil
	n.PushUnreadCount(context.Background(), recipient)

	require.Len(t, pusher.pushes, 1)
	assert.Equal(t, "notification_count", pusher.pushes[0].event)
	assert.Equal(t, map[string]int{"count": 2}, pusher.pushes[0].payload)
}

func TestPushUnreadCount_SwallowsCountErrors(t *testing.T) {
	store := newFakeNotificationStore()
	recipient := uuid.New()
	store.countErrs = errors.New("db down")
	pusher := &fakePusher{online: map[uuid.UUID]bool{recipient: true}}
	n := newNotifier(store, nil, pusher)

	n.PushUnreadCount(context.Background(), recipient)
	assert.Empty(t, pusher.pushes, "a failed count pushes nothing")
}

func TestKindRelatedType(t *testing.T) {
	typ, ok := KindRelatedType(models.KindMessage)
	assert.True(t, ok)
	assert.Equal(t, "ChatMessage", typ)

	_, ok = KindRelatedType(models.NotificationKind("mystery"))
	assert.False(t, ok)
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "mira sent you a message", DisplayText(models.KindMessage, "mira"))
	assert.Equal(t, "Someone followed you", DisplayText(models.KindFollow, ""))
	assert.Empty(t, DisplayText(models.NotificationKind("mystery"), "mira"))
}
