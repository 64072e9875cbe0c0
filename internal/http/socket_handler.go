package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/requestid"
	"dashboard-messaging/internal/service"
)

// Frames cliente -> servidor.
const (
	frameJoin              = "join"
	frameConversationJoin  = "conversation:join"
	frameConversationLeave = "conversation:leave"
)

type clientFrame struct {
	Type           string `json:"type"`
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ConversationAccess verifica que el usuario pueda unirse a la sala de la conversación.
type ConversationAccess interface {
	CanAccess(ctx context.Context, conversationID, userID, companyID string) error
}

// SocketHandler atiende GET /ws: registra la conexión en el hub y procesa
// los frames de join/leave.
type SocketHandler struct {
	logger   *zap.Logger
	hub      *realtime.Hub
	access   ConversationAccess
	upgrader websocket.Upgrader
}

func NewSocketHandler(logger *zap.Logger, hub *realtime.Hub, access ConversationAccess) *SocketHandler {
	return &SocketHandler{
		logger: logger,
		hub:    hub,
		access: access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// el origen lo valida el gateway; aquí basta con el token
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve maneja GET /ws.
func (h *SocketHandler) Serve(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", requestid.Field(c.Request.Context()), zap.Error(err))
		return
	}

	ctx := requestid.With(context.Background(), requestid.From(c.Request.Context()))
	conn := realtime.NewConnection(identity.UserID, ws)
	h.hub.Attach(ctx, conn)
	defer func() {
		h.hub.Detach(ctx, conn)
		if code := conn.CloseCode(); code != 0 && code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway {
			h.logger.Info("websocket closed by server", zap.String("user_id", identity.UserID), zap.Int("close_code", code))
		}
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	presence := h.hub.Presence()
	err = conn.Listen(
		func(payload []byte) { h.handleFrame(ctx, identity, conn, payload) },
		func() {
			if err := presence.Refresh(ctx, identity.UserID); err != nil {
				h.logger.Debug("presence refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
			}
		},
	)
	if err != nil {
		h.logger.Debug("websocket closed unexpectedly", zap.String("user_id", identity.UserID), zap.Error(err))
	}
}

func (h *SocketHandler) handleFrame(ctx context.Context, identity domain.Identity, conn *realtime.Connection, payload []byte) {
	var frame clientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		h.sendError(conn, "invalid frame")
		return
	}

	switch frame.Type {
	case frameJoin:
		if frame.UserID != "" && frame.UserID != identity.UserID {
			h.sendError(conn, "cannot join another user's room")
			return
		}
		room := realtime.UserRoom(identity.UserID)
		h.hub.Join(room, conn)
		_ = conn.SendEvent(realtime.EventJoined, gin.H{"room": room})

	case frameConversationJoin:
		convID := strings.TrimSpace(frame.ConversationID)
		if convID == "" {
			h.sendError(conn, "conversationId required")
			return
		}
		if err := h.access.CanAccess(ctx, convID, identity.UserID, identity.CompanyID); err != nil {
			if !errors.Is(err, service.ErrAccessDenied) && !errors.Is(err, service.ErrNotFound) {
				h.logger.Warn("conversation access check failed", requestid.Field(ctx), zap.String("conversation_id", convID), zap.Error(err))
			}
			_, msg := statusFor(err)
			h.sendError(conn, msg)
			return
		}
		room := realtime.ConversationRoom(convID)
		h.hub.Join(room, conn)
		_ = conn.SendEvent(realtime.EventJoined, gin.H{"room": room})

	case frameConversationLeave:
		convID := strings.TrimSpace(frame.ConversationID)
		if convID == "" {
			h.sendError(conn, "conversationId required")
			return
		}
		room := realtime.ConversationRoom(convID)
		h.hub.Leave(room, conn)
		_ = conn.SendEvent(realtime.EventLeft, gin.H{"room": room})

	default:
		h.sendError(conn, "unknown frame type")
	}
}

func (h *SocketHandler) sendError(conn *realtime.Connection, msg string) {
	_ = conn.SendEvent(realtime.EventError, gin.H{"message": msg})
}
