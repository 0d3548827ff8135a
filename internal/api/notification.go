package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tidepool/internal/middleware"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
)

// NotificationHandler serves the recipient-scoped notification log.
// Creation never happens here — notifications are produced by the
// notifier on domain events; this surface only reads and retires them.
type NotificationHandler struct {
	store  repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationHandler(store repository.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, logger: logger}
}

// List handles GET /v1/notifications?limit=&unread=true
func (h *NotificationHandler) List(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		limit = parsed
		if limit > 100 {
			limit = 100
		}
	}
	unreadOnly := c.Query("unread") == "true"

	views, err := h.store.List(c.Request.Context(), middleware.GetUserID(c), unreadOnly, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, views)
}

// UnreadCount handles GET /v1/notifications/unread-count — the same
// recomputed count the socket layer pushes.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.store.CountUnread(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to count unread", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// requireOwn loads a notification and verifies it belongs to the
// caller.
func (h *NotificationHandler) requireOwn(c *gin.Context) (*models.Notification, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification ID"})
		return nil, false
	}
	n, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to load notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notification"})
		return nil, false
	}
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return nil, false
	}
	if n.UserID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return nil, false
	}
	return n, true
}

// MarkRead handles PUT /v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	n, ok := h.requireOwn(c)
	if !ok {
		return
	}
	if err := h.store.MarkRead(c.Request.Context(), n.ID); err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
}

// MarkAllRead handles PUT /v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.store.MarkAllRead(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		h.logger.Error("failed to mark all read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark all read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked as read"})
}

// Delete handles DELETE /v1/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	n, ok := h.requireOwn(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), n.ID); err != nil {
		h.logger.Error("failed to delete notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification deleted"})
}

// DeleteAll handles DELETE /v1/notifications
func (h *NotificationHandler) DeleteAll(c *gin.Context) {
	if err := h.store.DeleteAll(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		h.logger.Error("failed to delete notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all notifications deleted"})
}
