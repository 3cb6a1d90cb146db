package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapewatch/internal/api/middleware"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/service"
)

// SettingsHandler handles notification settings.
type SettingsHandler struct {
	settings *service.SettingsService
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

type settingsRequest struct {
	TelegramChatID    string `json:"telegram_chat_id"`
	NotificationEmail string `json:"notification_email"`
	AlertThreshold    int    `json:"alert_threshold"`
}

// Get handles GET /api/v1/settings/notifications.
func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Put handles PUT /api/v1/settings/notifications.
func (h *SettingsHandler) Put(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	s := &domain.NotificationSettings{
		UserID:            middleware.UserID(c),
		TelegramChatID:    req.TelegramChatID,
		NotificationEmail: req.NotificationEmail,
		AlertThreshold:    req.AlertThreshold,
	}
	if err := h.settings.Save(c.Request.Context(), s); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
