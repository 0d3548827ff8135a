package realtime

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/tidepool/internal/auth"
	"github.com/lalith-99/tidepool/internal/cache"
	"github.com/lalith-99/tidepool/internal/chat"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MessageSender is the pipeline entry point the socket handler calls.
// Satisfied by *chat.Service; an interface so tests can fake it.
type MessageSender interface {
	SendMessage(ctx context.Context, senderID, chatID uuid.UUID, content string, replyTo *int64) (*models.MessageView, error)
}

// Server owns the WebSocket endpoint: it authenticates connections,
// walks them through activation (personal group, initial unread count,
// chat group joins), dispatches their events, and tears them down.
type Server struct {
	registry      *Registry
	auth          *authenticator
	sender        MessageSender
	chats         repository.ChatRepository
	notifications repository.NotificationRepository
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func NewServer(
	registry *Registry,
	sender MessageSender,
	chats repository.ChatRepository,
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	names *cache.Usernames,
	jwtSecret string,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: registry,
		auth: &authenticator{
			secret: jwtSecret,
			users:  users,
			names:  names,
			logger: logger,
		},
		sender:        sender,
		chats:         chats,
		notifications: notifications,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the SPA origin; the JWT is
			// the access control, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleWS handles GET /v1/ws.
//
// Authentication happens before the upgrade: a rejected connection
// never reaches the registry and never joins a group. The secret
// being unset is answered as a server error, loudly logged —
// distinguishable from a client presenting a bad token.
func (s *Server) HandleWS(c *gin.Context) {
	session, err := s.auth.authenticate(c.Request.Context(), c.Request)
	if err != nil {
		s.rejectUpgrade(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(ws, session.UserID, session.Username, s.logger)
	s.logger.Info("user connected",
		zap.String("user_id", session.UserID.String()),
		zap.String("username", session.Username))

	go conn.writePump()
	s.activate(c.Request.Context(), conn)

	// The read pump blocks until the connection dies, keeping the
	// request context alive for the connection's whole lifetime.
	conn.readPump(s.dispatch, s.teardown)
}

func (s *Server) rejectUpgrade(c *gin.Context, err error) {
	if errors.Is(err, ErrNoToken) {
		s.logger.Info("socket connection rejected: no token provided")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error: No token provided"})
		return
	}
	if errors.Is(err, auth.ErrNoSecret) {
		s.logger.Error("JWT secret not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
		return
	}
	if errors.Is(err, auth.ErrTokenExpired) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error: Token expired"})
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error: Invalid token"})
}

// activate runs the three entry steps for a new connection:
//  1. join the personal group,
//  2. push the current unread count to this connection only,
//  3. join the group of every chat the user is a member of.
//
// Steps 2 and 3 run concurrently; both are best-effort — a failed
// room listing or count query is logged and the connection proceeds.
// All steps settle before the first client event is read.
func (s *Server) activate(ctx context.Context, conn *Conn) {
	s.registry.Join(UserGroup(conn.userID), conn)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, err := s.notifications.CountUnread(gctx, conn.userID)
		if err != nil {
			s.logger.Error("fetch notification count failed",
				zap.String("user_id", conn.userID.String()), zap.Error(err))
			return nil
		}
		conn.Deliver(EventNotificationCount, countPayload{Count: count})
		return nil
	})
	g.Go(func() error {
		chats, err := s.chats.ListByMember(gctx, conn.userID)
		if err != nil {
			s.logger.Error("join chat rooms failed",
				zap.String("user_id", conn.userID.String()), zap.Error(err))
			return nil
		}
		for _, ch := range chats {
			s.registry.Join(ChatGroup(ch.ID), conn)
		}
		return nil
	})
	g.Wait()
}

// teardown removes the connection from every group it joined. No
// departure event goes to other participants; a stale typing
// indicator, if any, is the other clients' local timeout to clear.
func (s *Server) teardown(conn *Conn) {
	s.registry.LeaveAll(conn)
	s.logger.Info("user disconnected",
		zap.String("user_id", conn.userID.String()),
		zap.String("username", conn.username))
}

// dispatch routes one decoded envelope. Runs on the connection's read
// goroutine, so a connection's own events are handled in receipt
// order.
func (s *Server) dispatch(conn *Conn, env Envelope) {
	ctx := context.Background()

	switch env.Event {
	case EventSendMessage:
		s.handleSendMessage(ctx, conn, env)
	case EventJoinChat:
		s.handleJoinChat(ctx, conn, env)
	case EventLeaveChat:
		s.handleLeaveChat(conn, env)
	case EventTyping:
		s.handleTyping(conn, env, EventUserTyping)
	case EventStopTyping:
		s.handleTyping(conn, env, EventUserStopTyping)
	default:
		conn.Deliver(EventError, errorPayload{Message: "Unknown event"})
	}
}

func (s *Server) handleSendMessage(ctx context.Context, conn *Conn, env Envelope) {
	var payload sendMessagePayload
	if err := unmarshalData(env, &payload); err != nil {
		conn.Deliver(EventError, errorPayload{Message: "Malformed send_message payload"})
		return
	}

	chatID, ok := parseChatID(payload.ChatID)
	if !ok && payload.ChatID != "" {
		conn.Deliver(EventError, errorPayload{Message: chat.ErrChatNotFound.Error()})
		return
	}

	view, err := s.sender.SendMessage(ctx, conn.userID, chatID, payload.Content, payload.ReplyTo)
	if err != nil {
		var rej *chat.Rejection
		if errors.As(err, &rej) {
			conn.Deliver(EventError, errorPayload{Message: rej.Error()})
			return
		}
		s.logger.Error("send message failed",
			zap.String("user_id", conn.userID.String()), zap.Error(err))
		conn.Deliver(EventError, errorPayload{Message: "Failed to send message"})
		return
	}

	// The pipeline broadcast new_message to the whole group, this
	// connection included. The low-payload ack goes to the initiator
	// alone so it can reconcile optimistic local state by id.
	conn.Deliver(EventMessageSent, map[string]int64{"messageId": view.ID})
}

// handleJoinChat subscribes the connection to a chat group after the
// same existence and membership gates as a message send. Confirmation
// goes to the caller only.
func (s *Server) handleJoinChat(ctx context.Context, conn *Conn, env Envelope) {
	chatID, ok := chatRefFrom(env)
	if !ok {
		conn.Deliver(EventError, errorPayload{Message: chat.ErrChatNotFound.Error()})
		return
	}

	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		s.logger.Error("join chat lookup failed", zap.Error(err))
		conn.Deliver(EventError, errorPayload{Message: "Failed to join chat"})
		return
	}
	if ch == nil {
		conn.Deliver(EventError, errorPayload{Message: chat.ErrChatNotFound.Error()})
		return
	}

	isMember, err := s.chats.IsMember(ctx, chatID, conn.userID)
	if err != nil {
		s.logger.Error("join chat membership check failed", zap.Error(err))
		conn.Deliver(EventError, errorPayload{Message: "Failed to join chat"})
		return
	}
	if !isMember {
		conn.Deliver(EventError, errorPayload{Message: chat.ErrNotMember.Error()})
		return
	}

	s.registry.Join(ChatGroup(chatID), conn)
	conn.Deliver(EventJoinedChat, chatRefPayload{ChatID: chatID.String()})
}

// handleLeaveChat unconditionally unsubscribes: leaving a group the
// connection is not in is a no-op, not an error.
func (s *Server) handleLeaveChat(conn *Conn, env Envelope) {
	chatID, ok := chatRefFrom(env)
	if !ok {
		conn.Deliver(EventError, errorPayload{Message: chat.ErrChatNotFound.Error()})
		return
	}
	s.registry.Leave(ChatGroup(chatID), conn)
	conn.Deliver(EventLeftChat, chatRefPayload{ChatID: chatID.String()})
}

// handleTyping relays a transient typing signal to everyone in the
// room except the sender. Nothing is persisted, nothing acknowledged,
// and there is no server-side timeout for a client that never sends
// stop_typing.
func (s *Server) handleTyping(conn *Conn, env Envelope, outEvent string) {
	chatID, ok := chatRefFrom(env)
	if !ok {
		return
	}
	s.registry.BroadcastExcept(ChatGroup(chatID), conn, outEvent, typingPayload{
		UserID:   conn.userID.String(),
		Username: conn.username,
		ChatID:   chatID.String(),
	})
}
