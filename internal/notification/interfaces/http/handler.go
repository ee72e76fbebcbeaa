// Package http exposes the notification history API.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avkuzmin/cryptofolio/internal/notification/application"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
	"github.com/avkuzmin/cryptofolio/pkg/response"
)

// NotificationHandler 查询当前用户的通知历史
type NotificationHandler struct {
	notifications *application.NotificationService
}

func NewNotificationHandler(notifications *application.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/notifications", h.History)
}

func (h *NotificationHandler) History(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid offset")
		return
	}

	notifications, total, err := h.notifications.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list notifications", "user_id", userID, "error", err)
		response.Error(c, "failed to list notifications")
		return
	}

	response.Success(c, gin.H{
		"items": notifications,
		"total": total,
	})
}
