package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Wire protocol: every frame in both directions is a JSON envelope
// {"event": <name>, "data": <payload>}.

// Client → server events.
const (
	EventSendMessage = "send_message"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Events mirrored by the REST layer through the registry's raw
// group-send primitives, so both transports stay visually consistent.
const (
	EventChatCreated          = "chat_created"
	EventChatInviteReceived   = "chat_invite_received"
	EventChatMemberJoined     = "chat_member_joined"
	EventChatInviteAccepted   = "chat_invite_accepted"
	EventChatInviteAcceptedBy = "chat_invite_accepted_by_user"
	EventChatInviteRejected   = "chat_invite_rejected"
	EventChatInviteRejectedBy = "chat_invite_rejected_by_user"
	EventChatMemberLeft       = "chat_member_left"
	EventChatLeft             = "chat_left"
)

// Server → client events.
const (
	EventNotificationCount = "notification_count"
	EventNewNotification   = "new_notification"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventJoinedChat        = "joined_chat"
	EventLeftChat          = "left_chat"
	EventUserTyping        = "user_typing"
	EventUserStopTyping    = "user_stop_typing"
	EventError             = "error"
)

// Envelope is the frame shape on the wire. Data stays raw until the
// event name tells us which payload struct to decode into.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// sendMessagePayload is the client's send_message data.
type sendMessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	ReplyTo *int64 `json:"replyTo,omitempty"`
}

// chatRefPayload carries just a chat reference (join/leave/typing).
type chatRefPayload struct {
	ChatID string `json:"chatId"`
}

// typingPayload is broadcast to the room minus the sender.
type typingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	ChatID   string `json:"chatId"`
}

// errorPayload carries a human-readable rejection to the initiator only.
type errorPayload struct {
	Message string `json:"message"`
}

// countPayload is the unread-notification projection.
type countPayload struct {
	Count int `json:"count"`
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}

func parseChatID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// chatRefFrom extracts the chat id from an event whose data is either
// a {"chatId": ...} object or a bare id string (clients send both).
func chatRefFrom(env Envelope) (uuid.UUID, bool) {
	var ref chatRefPayload
	if err := unmarshalData(env, &ref); err == nil && ref.ChatID != "" {
		return parseChatID(ref.ChatID)
	}
	var bare string
	if err := unmarshalData(env, &bare); err == nil && bare != "" {
		return parseChatID(bare)
	}
	return uuid.Nil, false
}
