package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/service"
)

// MessagingService es lo que los handlers de conversaciones necesitan del servicio.
type MessagingService interface {
	PostMessage(ctx context.Context, in service.PostMessageInput) (domain.Message, error)
	GetMessages(ctx context.Context, conversationID, requesterID, companyID string, limit int) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, requesterID, companyID string) error
	CreateConversation(ctx context.Context, companyID, creatorID string, memberIDs []string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID, companyID string) ([]domain.ConversationSummary, error)
	UnreadCount(ctx context.Context, conversationID, userID, companyID string) (int64, error)
	ListDirectTargets(ctx context.Context, userID, companyID string) ([]domain.User, error)
	CanAccess(ctx context.Context, conversationID, userID, companyID string) error
}

// MessageHandler expone conversaciones y mensajes.
type MessageHandler struct {
	logger *zap.Logger
	svc    MessagingService
}

func NewMessageHandler(logger *zap.Logger, svc MessagingService) *MessageHandler {
	return &MessageHandler{logger: logger, svc: svc}
}

// GetMessages maneja GET /conversations/:id/messages.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	msgs, err := h.svc.GetMessages(c.Request.Context(), c.Param("id"), identity.UserID, identity.CompanyID, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage maneja POST /conversations/:id/messages.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req struct {
		Content      *string         `json:"content"`
		FileURL      *string         `json:"fileUrl"`
		Type         string          `json:"type"`
		FileMetadata json.RawMessage `json:"fileMetadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	var metadata []byte
	if len(req.FileMetadata) > 0 && string(req.FileMetadata) != "null" {
		metadata = req.FileMetadata
	}
	msg, err := h.svc.PostMessage(c.Request.Context(), service.PostMessageInput{
		ConversationID: c.Param("id"),
		SenderID:       identity.UserID,
		CompanyID:      identity.CompanyID,
		Content:        req.Content,
		Type:           domain.MessageType(req.Type),
		FileURL:        req.FileURL,
		FileMetadata:   metadata,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead maneja PUT /conversations/:id/messages/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), identity.UserID, identity.CompanyID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListConversations maneja GET /conversations.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	list, err := h.svc.ListConversations(c.Request.Context(), identity.UserID, identity.CompanyID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// CreateConversation maneja POST /conversations.
func (h *MessageHandler) CreateConversation(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req struct {
		MemberIDs []string `json:"memberIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create conversation request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}
	conv, err := h.svc.CreateConversation(c.Request.Context(), identity.CompanyID, identity.UserID, req.MemberIDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// UnreadCount maneja GET /conversations/:id/unread-count.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	count, err := h.svc.UnreadCount(c.Request.Context(), c.Param("id"), identity.UserID, identity.CompanyID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ListDirectTargets maneja GET /conversations/targets.
func (h *MessageHandler) ListDirectTargets(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	users, err := h.svc.ListDirectTargets(c.Request.Context(), identity.UserID, identity.CompanyID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func requireIdentity(c *gin.Context) (domain.Identity, bool) {
	identity, ok := GetIdentity(c)
	if !ok || identity.UserID == "" || identity.CompanyID == "" {
		abortWithError(c, service.ErrUnauthorized)
		return domain.Identity{}, false
	}
	return identity, true
}

// intQuery lee un entero opcional; ausente devuelve 0 y el servicio aplica el default.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	if v == 0 {
		badRequest(c, name+" must be positive")
		return 0, false
	}
	return v, true
}
