package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"syntra-checkout/internal/services/notifications"
	"syntra-checkout/internal/services/notifications/supervisor"
)

type NotificationCenter interface {
	Notifications() []notifications.Notification
	UnreadCount() int
	MarkAsRead(id string) error
	MarkAllAsRead() int
	ClearAll()
	ConnectionState() supervisor.Status
}

type Reconnector interface {
	Reconnect()
}

type NotificationsHTTPHandler struct {
	center     NotificationCenter
	reconnects Reconnector
}

func NewNotificationsHTTPHandler(center NotificationCenter, reconnects Reconnector) *NotificationsHTTPHandler {
	return &NotificationsHTTPHandler{
		center:     center,
		reconnects: reconnects,
	}
}

func (h *NotificationsHTTPHandler) ListNotifications(c *gin.Context) {
	items := h.center.Notifications()
	if limit := ParseLimit(c, "limit", len(items)); limit < len(items) {
		items = items[:limit]
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Notifications retrieved successfully", items, gin.H{
		"unread":     h.center.UnreadCount(),
		"connection": h.center.ConnectionState(),
	}))
}

func (h *NotificationsHTTPHandler) UnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse("Unread count retrieved successfully", gin.H{
		"unread": h.center.UnreadCount(),
	}))
}

func (h *NotificationsHTTPHandler) MarkAsRead(c *gin.Context) {
	if err := h.center.MarkAsRead(c.Param("id")); err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("Notification not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse("Notification marked as read", gin.H{
		"unread": h.center.UnreadCount(),
	}))
}

func (h *NotificationsHTTPHandler) MarkAllAsRead(c *gin.Context) {
	n := h.center.MarkAllAsRead()
	c.JSON(http.StatusOK, successResponse("All notifications marked as read", gin.H{
		"marked": n,
	}))
}

func (h *NotificationsHTTPHandler) ClearAll(c *gin.Context) {
	h.center.ClearAll()
	c.JSON(http.StatusOK, successResponse("Notifications cleared", nil))
}

func (h *NotificationsHTTPHandler) ConnectionState(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse("Connection state retrieved successfully", h.center.ConnectionState()))
}

func (h *NotificationsHTTPHandler) Reconnect(c *gin.Context) {
	h.reconnects.Reconnect()
	c.JSON(http.StatusAccepted, successResponse("Reconnect requested", h.center.ConnectionState()))
}
