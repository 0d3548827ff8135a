package chat

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

// ---------------------------------------------------------------
// In-memory fakes of the repository interfaces.
// ---------------------------------------------------------------

type fakeChatStore struct {
	chats   map[uuid.UUID]*models.Chat
	members map[uuid.UUID][]uuid.UUID
	touched []uuid.UUID
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		chats:   make(map[uuid.UUID]*models.Chat),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeChatStore) Create(_ context.Context, name string, creatorID uuid.UUID) (*models.Chat, error) {
	ch := &models.Chat{ID: uuid.New(), Name: name, CreatorID: creatorID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.chats[ch.ID] = ch
	f.members[ch.ID] = []uuid.UUID{creatorID}
	return ch, nil
}

func (f *fakeChatStore) GetByID(_ context.Context, chatID uuid.UUID) (*models.Chat, error) {
	return f.chats[chatID], nil
}

func (f *fakeChatStore) ListByMember(_ context.Context, userID uuid.UUID) ([]models.Chat, error) {
	out := make([]models.Chat, 0)
	for id, members := range f.members {
		for _, m := range members {
			if m == userID {
				out = append(out, *f.chats[id])
			}
		}
	}
	return out, nil
}

func (f *fakeChatStore) Touch(_ context.Context, chatID uuid.UUID) error {
	f.touched = append(f.touched, chatID)
	return nil
}

func (f *fakeChatStore) AddMember(_ context.Context, chatID, userID uuid.UUID) error {
	for _, m := range f.members[chatID] {
		if m == userID {
			return nil
		}
	}
	f.members[chatID] = append(f.members[chatID], userID)
	return nil
}

func (f *fakeChatStore) RemoveMember(_ context.Context, chatID, userID uuid.UUID) error {
	kept := f.members[chatID][:0]
	for _, m := range f.members[chatID] {
		if m != userID {
			kept = append(kept, m)
		}
	}
	f.members[chatID] = kept
	return nil
}

func (f *fakeChatStore) ListMembers(_ context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	return f.members[chatID], nil
}

func (f *fakeChatStore) ListMemberUsers(_ context.Context, chatID uuid.UUID) ([]models.User, error) {
	out := make([]models.User, 0)
	for _, m := range f.members[chatID] {
		out = append(out, models.User{ID: m})
	}
	return out, nil
}

func (f *fakeChatStore) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	for _, m := range f.members[chatID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeMessageStore struct {
	nextID   int64
	messages map[int64]*models.ChatMessage
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{nextID: 1, messages: make(map[int64]*models.ChatMessage)}
}

func (f *fakeMessageStore) Create(_ context.Context, chatID, senderID uuid.UUID, content string, replyTo *int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:        f.nextID,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: time.Now(),
	}
	f.nextID++
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, messageID int64) (*models.ChatMessage, error) {
	return f.messages[messageID], nil
}

func (f *fakeMessageStore) GetView(_ context.Context, messageID int64) (*models.MessageView, error) {
	msg := f.messages[messageID]
	if msg == nil {
		return nil, nil
	}
	view := &models.MessageView{ChatMessage: *msg, SenderName: "sender"}
	if msg.ReplyTo != nil {
		if parent := f.messages[*msg.ReplyTo]; parent != nil {
			view.Reply = &models.ReplyView{ID: parent.ID, Content: parent.Content, SenderID: parent.SenderID}
		}
	}
	return view, nil
}

func (f *fakeMessageStore) ListViews(_ context.Context, chatID uuid.UUID, limit int) ([]models.MessageView, error) {
	out := make([]models.MessageView, 0)
	for id := int64(1); id < f.nextID && len(out) < limit; id++ {
		if msg, ok := f.messages[id]; ok && msg.ChatID == chatID {
			out = append(out, models.MessageView{ChatMessage: *msg})
		}
	}
	return out, nil
}

type notifyCall struct {
	recipient uuid.UUID
	kind      models.NotificationKind
	relatedID string
	from      *uuid.UUID
	metadata  map[string]any
}

type fakeNotifier struct {
	notified []notifyCall
	counts   []uuid.UUID
	fail     bool
}

func (f *fakeNotifier) Notify(_ context.Context, recipient uuid.UUID, kind models.NotificationKind, relatedID, relatedType string, from *uuid.UUID, metadata map[string]any) (*models.Notification, error) {
	if f.fail {
		return nil, errors.New("notify failed")
	}
	f.notified = append(f.notified, notifyCall{recipient, kind, relatedID, from, metadata})
	return &models.Notification{}, nil
}

func (f *fakeNotifier) PushUnreadCount(_ context.Context, userID uuid.UUID) {
	f.counts = append(f.counts, userID)
}

type broadcastCall struct {
	chatID uuid.UUID
	event  string
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (f *fakeBroadcaster) BroadcastToChat(chatID uuid.UUID, event string, payload any) {
	f.calls = append(f.calls, broadcastCall{chatID, event})
}

// ---------------------------------------------------------------

type fixture struct {
	svc      *Service
	chats    *fakeChatStore
	messages *fakeMessageStore
	notifier *fakeNotifier
	bcast    *fakeBroadcaster
}

func newFixture() *fixture {
	chats := newFakeChatStore()
	messages := newFakeMessageStore()
	notifier := &fakeNotifier{}
	bcast := &fakeBroadcaster{}
	return &fixture{
		svc:      NewService(chats, messages, notifier, bcast, zap.NewNop()),
		chats:    chats,
		messages: messages,
		notifier: notifier,
		bcast:    bcast,
	}
}

func TestSendMessage_MissingFields(t *testing.T) {
	f := newFixture()
	sender := uuid.New()

	tests := []struct {
		name    string
		chatID  uuid.UUID
		content string
	}{
		{"nil chat id", uuid.Nil, "hello"},
		{"empty content", uuid.New(), ""},
		{"whitespace content", uuid.New(), "   \n\t "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), sender, tt.chatID, tt.content, nil)
			assert.ErrorIs(t, err, ErrMissingFields)
			assert.Empty(t, f.messages.messages, "nothing may be persisted")
			assert.Empty(t, f.bcast.calls, "nothing may be broadcast")
		})
	}
}

func TestSendMessage_ChatNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SendMessage(context.Background(), uuid.New(), uuid.New(), "hi", nil)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestSendMessage_NotMember(t *testing.T) {
	f := newFixture()
	creator := uuid.New()
	ch, err := f.chats.Create(context.Background(), "room", creator)
	require.NoError(t, err)

	outsider := uuid.New()
	_, err = f.svc.SendMessage(context.Background(), outsider, ch.ID, "hi", nil)
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, f.messages.messages)
	assert.Empty(t, f.bcast.calls)
	assert.Empty(t, f.notifier.notified)
}

func TestSendMessage_ReplyNotFound(t *testing.T) {
	f := newFixture()
	sender := uuid.New()
	ch, _ := f.chats.Create(context.Background(), "room", sender)

	missing := int64(99)
	_, err := f.svc.SendMessage(context.Background(), sender, ch.ID, "hi", &missing)
	assert.ErrorIs(t, err, ErrReplyNotFound)
	assert.Empty(t, f.messages.messages)
}

func TestSendMessage_ReplyFromDifferentChat(t *testing.T) {
	f := newFixture()
	sender := uuid.New()
	chA, _ := f.chats.Create(context.Background(), "a", sender)
	chB, _ := f.chats.Create(context.Background(), "b", sender)

	parent, err := f.svc.SendMessage(context.Background(), sender, chB.ID, "parent", nil)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), sender, chA.ID, "re", &parent.ID)
	assert.ErrorIs(t, err, ErrReplyDifferentChat)
	assert.Len(t, f.messages.messages, 1, "only the parent may exist")
}

func TestSendMessage_ContentTooLong(t *testing.T) {
	f := newFixture()
	sender := uuid.New()
	ch, _ := f.chats.Create(context.Background(), "room", sender)

	long := make([]byte, maxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.svc.SendMessage(context.Background(), sender, ch.ID, string(long), nil)
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestSendMessage_Success(t *testing.T) {
	f := newFixture()
	sender := uuid.New()
	memberB := uuid.New()
	memberC := uuid.New()

	ch, _ := f.chats.Create(context.Background(), "room", sender)
	f.chats.AddMember(context.Background(), ch.ID, memberB)
	f.chats.AddMember(context.Background(), ch.ID, memberC)

	view, err := f.svc.SendMessage(context.Background(), sender, ch.ID, "  hello  ", nil)
	require.NoError(t, err)

	// Trimmed content, correct attribution, no reply link.
	assert.Equal(t, "hello", view.Content)
	assert.Equal(t, sender, view.SenderID)
	assert.Equal(t, ch.ID, view.ChatID)
	assert.Nil(t, view.ReplyTo)

	// Last-activity bumped.
	assert.Equal(t, []uuid.UUID{ch.ID}, f.chats.touched)

	// Broadcast to the chat group.
	require.Len(t, f.bcast.calls, 1)
	assert.Equal(t, ch.ID, f.bcast.calls[0].chatID)
	assert.Equal(t, "new_message", f.bcast.calls[0].event)

	// Notifications for the other members only, never the sender.
	require.Len(t, f.notifier.notified, 2)
	recipients := []uuid.UUID{f.notifier.notified[0].recipient, f.notifier.notified[1].recipient}
	assert.ElementsMatch(t, []uuid.UUID{memberB, memberC}, recipients)
	for _, call := range f.notifier.notified {
		assert.Equal(t, models.KindMessage, call.kind)
		assert.Equal(t, models.RelatedID(view.ID), call.relatedID)
		require.NotNil(t, call.from)
		assert.Equal(t, sender, *call.from)
		assert.Equal(t, "room", call.metadata["chatName"])
	}
	assert.ElementsMatch(t, []uuid.UUID{memberB, memberC}, f.notifier.counts)
}

func TestSendMessage_ReplySameChat(t *testing.T) {
	f := newFixture()
	sender := uuid.New()
	ch, _ := f.chats.Create(context.Background(), "room", sender)

	parent, err := f.svc.SendMessage(context.Background(), sender, ch.ID, "parent", nil)
	require.NoError(t, err)

	view, err := f.svc.SendMessage(context.Background(), sender, ch.ID, "re", &parent.ID)
	require.NoError(t, err)
	require.NotNil(t, view.ReplyTo)
	assert.Equal(t, parent.ID, *view.ReplyTo)
	require.NotNil(t, view.Reply)
	assert.Equal(t, "parent", view.Reply.Content)
}

func TestSendMessage_NotifierFailureDoesNotFailSend(t *testing.T) {
	f := newFixture()
	f.notifier.fail = true

	sender := uuid.New()
	other := uuid.New()
	ch, _ := f.chats.Create(context.Background(), "room", sender)
	f.chats.AddMember(context.Background(), ch.ID, other)

	view, err := f.svc.SendMessage(context.Background(), sender, ch.ID, "hi", nil)
	require.NoError(t, err, "notification failure is off the critical path")
	assert.NotNil(t, view)
	assert.Len(t, f.bcast.calls, 1)
	assert.Empty(t, f.notifier.counts, "no count push after a failed create")
}

func TestHistory_MembershipGate(t *testing.T) {
	f := newFixture()
	member := uuid.New()
	ch, _ := f.chats.Create(context.Background(), "room", member)

	_, err := f.svc.History(context.Background(), uuid.New(), ch.ID, 50)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.svc.History(context.Background(), member, uuid.New(), 50)
	assert.ErrorIs(t, err, ErrChatNotFound)

	views, err := f.svc.History(context.Background(), member, ch.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, views)
}
