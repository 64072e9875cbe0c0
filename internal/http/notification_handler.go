package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/service"
)

type NotificationService interface {
	List(ctx context.Context, userID, companyID string, limit, offset int, unreadOnly bool) (domain.NotificationPage, error)
	UnreadCount(ctx context.Context, userID, companyID string) (int64, error)
	MarkAsRead(ctx context.Context, userID, companyID string, ids []string) (service.MarkReadResult, error)
	Create(ctx context.Context, in service.CreateNotificationInput) (domain.Notification, error)
}

// NotificationHandler expone el listado y la gestión de notificaciones.
type NotificationHandler struct {
	logger *zap.Logger
	svc    NotificationService
}

func NewNotificationHandler(logger *zap.Logger, svc NotificationService) *NotificationHandler {
	return &NotificationHandler{logger: logger, svc: svc}
}

// List maneja GET /notifications?limit&offset&unreadOnly.
func (h *NotificationHandler) List(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset := 0
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "offset must be an integer")
			return
		}
		offset = v
	}
	unreadOnly := false
	if raw := strings.TrimSpace(c.Query("unreadOnly")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "unreadOnly must be a boolean")
			return
		}
		unreadOnly = v
	}

	page, err := h.svc.List(c.Request.Context(), identity.UserID, identity.CompanyID, limit, offset, unreadOnly)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if page.Items == nil {
		page.Items = []domain.Notification{}
	}
	c.JSON(http.StatusOK, page)
}

// UnreadCount maneja GET /notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	count, err := h.svc.UnreadCount(c.Request.Context(), identity.UserID, identity.CompanyID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkAsRead maneja PATCH /notifications/mark-read.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid mark read request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}
	res, err := h.svc.MarkAsRead(c.Request.Context(), identity.UserID, identity.CompanyID, req.IDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"updated":     len(res.UpdatedIDs),
		"updatedIds":  res.UpdatedIDs,
		"unreadCount": res.UnreadCount,
	})
}

// Create maneja POST /notifications.
func (h *NotificationHandler) Create(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req struct {
		Title       string  `json:"title"`
		Message     string  `json:"message"`
		Type        string  `json:"type"`
		Link        *string `json:"link"`
		RecipientID string  `json:"recipientId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create notification request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}
	n, err := h.svc.Create(c.Request.Context(), service.CreateNotificationInput{
		CompanyID:   identity.CompanyID,
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		Link:        req.Link,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}
