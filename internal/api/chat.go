package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/chat"
	"github.com/lalith-99/tidepool/internal/middleware"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/realtime"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
)

// Broadcaster is the slice of the room registry the REST layer uses to
// mirror its mutations as live events.
type Broadcaster interface {
	BroadcastToChat(chatID uuid.UUID, event string, payload any)
	BroadcastToUser(userID uuid.UUID, event string, payload any)
}

// ChatHandler serves the chat CRUD surface plus the non-realtime
// message-send fallback. The fallback shares the pipeline with the
// socket handler, so validation and persisted shape are identical no
// matter which entry point a client uses.
type ChatHandler struct {
	chats    repository.ChatRepository
	invites  repository.InviteRepository
	users    repository.UserRepository
	pipeline *chat.Service
	notifier chat.Notifier
	bcast    Broadcaster
	logger   *zap.Logger
}

func NewChatHandler(
	chats repository.ChatRepository,
	invites repository.InviteRepository,
	users repository.UserRepository,
	pipeline *chat.Service,
	notifier chat.Notifier,
	bcast Broadcaster,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		invites:  invites,
		users:    users,
		pipeline: pipeline,
		notifier: notifier,
		bcast:    bcast,
		logger:   logger,
	}
}

type userRef struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type chatResponse struct {
	models.Chat
	Members []userRef `json:"members"`
}

func (h *ChatHandler) chatResponse(c *gin.Context, ch *models.Chat) (*chatResponse, error) {
	members, err := h.chats.ListMemberUsers(c.Request.Context(), ch.ID)
	if err != nil {
		return nil, err
	}
	resp := &chatResponse{Chat: *ch, Members: make([]userRef, 0, len(members))}
	for _, m := range members {
		resp.Members = append(resp.Members, userRef{ID: m.ID, Username: m.Username})
	}
	return resp, nil
}

func (h *ChatHandler) callerRef(c *gin.Context) userRef {
	id := middleware.GetUserID(c)
	ref := userRef{ID: id}
	if user, err := h.users.GetByID(c.Request.Context(), id); err == nil && user != nil {
		ref.Username = user.Username
	}
	return ref
}

type createChatRequest struct {
	Name            string   `json:"name" binding:"required,max=100"`
	Invitees        []string `json:"invitees"`
	InviteUsernames []string `json:"inviteUsernames"`
}

// resolveInvitees merges explicit ids and username lookups into one
// deduplicated set, excluding the caller. Unknown usernames are
// silently skipped.
func (h *ChatHandler) resolveInvitees(c *gin.Context, req createChatRequest, caller uuid.UUID) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	out := make([]uuid.UUID, 0)

	add := func(id uuid.UUID) {
		if id == caller || id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, raw := range req.Invitees {
		if id, err := uuid.Parse(raw); err == nil {
			add(id)
		}
	}
	if len(req.InviteUsernames) > 0 {
		users, err := h.users.GetByUsernames(c.Request.Context(), req.InviteUsernames)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			add(u.ID)
		}
	}
	return out, nil
}

// notifyInvitees persists a chat_invite notification per invitee and
// mirrors the invite over their personal group. Best-effort: a failed
// push never rolls back the invite rows.
func (h *ChatHandler) notifyInvitees(c *gin.Context, ch *chatResponse, from userRef, invitees []uuid.UUID) {
	ctx := c.Request.Context()
	for _, userID := range invitees {
		if _, err := h.notifier.Notify(ctx, userID, models.KindChatInvite,
			models.RelatedUUID(ch.ID), "Chat", &from.ID,
			map[string]any{"chatName": ch.Name}); err != nil {
			h.logger.Error("create invite notification failed",
				zap.String("recipient", userID.String()), zap.Error(err))
		}
		h.bcast.BroadcastToUser(userID, realtime.EventChatInviteReceived, gin.H{
			"chat":     ch,
			"fromUser": from,
		})
		h.notifier.PushUnreadCount(ctx, userID)
	}
}

// Create handles POST /v1/chats — create a chat with optional invites.
// The creator is a member from the moment the chat exists.
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := middleware.GetUserID(c)

	invitees, err := h.resolveInvitees(c, req, caller)
	if err != nil {
		h.logger.Error("failed to resolve invitees", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	ch, err := h.chats.Create(c.Request.Context(), req.Name, caller)
	if err != nil {
		h.logger.Error("failed to create chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	if err := h.invites.CreateBatch(c.Request.Context(), ch.ID, caller, invitees); err != nil {
		h.logger.Error("failed to create invites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	resp, err := h.chatResponse(c, ch)
	if err != nil {
		h.logger.Error("failed to populate chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	h.bcast.BroadcastToUser(caller, realtime.EventChatCreated, resp)
	h.notifyInvitees(c, resp, h.callerRef(c), invitees)

	c.JSON(http.StatusCreated, resp)
}

type inviteRequest struct {
	Invitees        []string `json:"invitees"`
	InviteUsernames []string `json:"inviteUsernames"`
}

// Invite handles POST /v1/chats/:id/invite — member-only.
func (h *ChatHandler) Invite(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := middleware.GetUserID(c)

	ch, ok := h.requireMembership(c, chatID, caller)
	if !ok {
		return
	}

	invitees, err := h.resolveInvitees(c, createChatRequest{
		Invitees:        req.Invitees,
		InviteUsernames: req.InviteUsernames,
	}, caller)
	if err != nil {
		h.logger.Error("failed to resolve invitees", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send invites"})
		return
	}
	if len(invitees) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid invitees provided"})
		return
	}

	if err := h.invites.CreateBatch(c.Request.Context(), chatID, caller, invitees); err != nil {
		h.logger.Error("failed to create invites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send invites"})
		return
	}

	resp, err := h.chatResponse(c, ch)
	if err != nil {
		h.logger.Error("failed to populate chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send invites"})
		return
	}
	h.notifyInvitees(c, resp, h.callerRef(c), invitees)

	c.JSON(http.StatusOK, gin.H{"message": "invitations sent"})
}

// ListMine handles GET /v1/chats/my — newest activity first.
func (h *ChatHandler) ListMine(c *gin.Context) {
	chats, err := h.chats.ListByMember(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, chats)
}

// ListInvites handles GET /v1/chats/invites?direction=incoming|outgoing
func (h *ChatHandler) ListInvites(c *gin.Context) {
	caller := middleware.GetUserID(c)

	var invites []models.ChatInvite
	var err error
	if c.Query("direction") == "outgoing" {
		invites, err = h.invites.ListOutgoing(c.Request.Context(), caller)
	} else {
		invites, err = h.invites.ListIncoming(c.Request.Context(), caller)
	}
	if err != nil {
		h.logger.Error("failed to list invites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invites"})
		return
	}
	c.JSON(http.StatusOK, invites)
}

// requireInvite loads an invite and checks the caller may respond to
// it: recipient only, pending only.
func (h *ChatHandler) requireInvite(c *gin.Context) (*models.ChatInvite, bool) {
	inviteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invite ID"})
		return nil, false
	}
	invite, err := h.invites.GetByID(c.Request.Context(), inviteID)
	if err != nil {
		h.logger.Error("failed to load invite", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invite"})
		return nil, false
	}
	if invite == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
		return nil, false
	}
	if invite.ToUser != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to respond to this invite"})
		return nil, false
	}
	if invite.Status != models.InvitePending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invite already processed"})
		return nil, false
	}
	return invite, true
}

// AcceptInvite handles POST /v1/chats/invites/:id/accept — adds the
// recipient to the chat's member set and mirrors the change to the
// room, the accepter, and the inviter.
func (h *ChatHandler) AcceptInvite(c *gin.Context) {
	invite, ok := h.requireInvite(c)
	if !ok {
		return
	}

	if err := h.invites.SetStatus(c.Request.Context(), invite.ID, models.InviteAccepted); err != nil {
		h.logger.Error("failed to accept invite", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invite"})
		return
	}
	if err := h.chats.AddMember(c.Request.Context(), invite.ChatID, invite.ToUser); err != nil {
		h.logger.Error("failed to add member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invite"})
		return
	}

	ch, err := h.chats.GetByID(c.Request.Context(), invite.ChatID)
	if err != nil || ch == nil {
		h.logger.Error("failed to load chat after accept", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invite"})
		return
	}
	resp, err := h.chatResponse(c, ch)
	if err != nil {
		h.logger.Error("failed to populate chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invite"})
		return
	}

	accepter := h.callerRef(c)
	h.bcast.BroadcastToChat(invite.ChatID, realtime.EventChatMemberJoined, gin.H{
		"chat":      resp,
		"newMember": accepter,
	})
	h.bcast.BroadcastToUser(invite.ToUser, realtime.EventChatInviteAccepted, gin.H{"chat": resp})
	h.bcast.BroadcastToUser(invite.FromUser, realtime.EventChatInviteAcceptedBy, gin.H{
		"chat":       resp,
		"acceptedBy": accepter,
	})

	c.JSON(http.StatusOK, gin.H{"message": "invite accepted", "chat": resp})
}

// RejectInvite handles POST /v1/chats/invites/:id/reject
func (h *ChatHandler) RejectInvite(c *gin.Context) {
	invite, ok := h.requireInvite(c)
	if !ok {
		return
	}

	if err := h.invites.SetStatus(c.Request.Context(), invite.ID, models.InviteRejected); err != nil {
		h.logger.Error("failed to reject invite", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject invite"})
		return
	}

	rejecter := h.callerRef(c)
	h.bcast.BroadcastToUser(invite.ToUser, realtime.EventChatInviteRejected, gin.H{
		"inviteId": invite.ID,
		"chatId":   invite.ChatID,
	})
	h.bcast.BroadcastToUser(invite.FromUser, realtime.EventChatInviteRejectedBy, gin.H{
		"chatId":     invite.ChatID,
		"rejectedBy": rejecter,
	})

	c.JSON(http.StatusOK, gin.H{"message": "invite rejected"})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	ReplyTo *int64 `json:"replyTo"`
}

// SendMessage handles POST /v1/chats/:id/messages — the non-realtime
// fallback entry point. Same pipeline as the socket path, so the
// preconditions and the persisted shape cannot diverge; the pipeline
// also broadcasts to the chat's live connections.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.pipeline.SendMessage(c.Request.Context(), middleware.GetUserID(c), chatID, req.Content, req.ReplyTo)
	if err != nil {
		h.rejectOrFail(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, view)
}

// ListMessages handles GET /v1/chats/:id/messages?limit= — history,
// oldest first, member-only.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 200 {
			limit = 200
		}
	}

	views, err := h.pipeline.History(c.Request.Context(), middleware.GetUserID(c), chatID, limit)
	if err != nil {
		h.rejectOrFail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, views)
}

// Leave handles POST /v1/chats/:id/leave
func (h *ChatHandler) Leave(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}
	caller := middleware.GetUserID(c)

	ch, ok := h.requireMembership(c, chatID, caller)
	if !ok {
		return
	}

	if err := h.chats.RemoveMember(c.Request.Context(), chatID, caller); err != nil {
		h.logger.Error("failed to remove member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave chat"})
		return
	}

	resp, err := h.chatResponse(c, ch)
	if err != nil {
		h.logger.Error("failed to populate chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave chat"})
		return
	}

	leaver := h.callerRef(c)
	h.bcast.BroadcastToChat(chatID, realtime.EventChatMemberLeft, gin.H{
		"chat":       resp,
		"leftMember": leaver,
	})
	h.bcast.BroadcastToUser(caller, realtime.EventChatLeft, gin.H{"chatId": chatID})

	c.JSON(http.StatusOK, gin.H{"message": "left chat", "chat": resp})
}

// requireMembership loads the chat and checks the caller belongs to
// it, writing the error response itself when not.
func (h *ChatHandler) requireMembership(c *gin.Context, chatID, userID uuid.UUID) (*models.Chat, bool) {
	ch, err := h.chats.GetByID(c.Request.Context(), chatID)
	if err != nil {
		h.logger.Error("failed to load chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return nil, false
	}
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": chat.ErrChatNotFound.Error()})
		return nil, false
	}
	isMember, err := h.chats.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		h.logger.Error("failed to check membership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return nil, false
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": chat.ErrNotMember.Error()})
		return nil, false
	}
	return ch, true
}

// rejectOrFail maps pipeline rejections to HTTP statuses; anything
// else is a 500 with a generic message.
func (h *ChatHandler) rejectOrFail(c *gin.Context, err error, generic string) {
	var rej *chat.Rejection
	if !errors.As(err, &rej) {
		h.logger.Error(generic, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": generic})
		return
	}

	status := http.StatusBadRequest
	switch {
	case errors.Is(err, chat.ErrChatNotFound), errors.Is(err, chat.ErrReplyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNotMember):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": rej.Error()})
}
