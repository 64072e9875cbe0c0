package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dashboard-messaging/internal/requestid"
	"dashboard-messaging/internal/service"
)

// HealthCheck verifica las dependencias del proceso.
type HealthCheck func(ctx context.Context) error

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	messageH *MessageHandler,
	notificationH *NotificationHandler,
	socketH *SocketHandler,
	health HealthCheck,
) *gin.Engine {
	r := gin.New()

	r.Use(requestIDMiddleware(), zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", healthHandler(logger, health))

	if socketH != nil {
		r.GET("/ws", IdentityMiddleware(jwtSvc), socketH.Serve)
	}

	api := r.Group("/", jsonContentTypeMiddleware(), IdentityMiddleware(jwtSvc))

	conversations := api.Group("/conversations")
	conversations.GET("", messageH.ListConversations)
	conversations.POST("", messageH.CreateConversation)
	conversations.GET("/targets", messageH.ListDirectTargets)
	conversations.GET("/:id/messages", messageH.GetMessages)
	conversations.POST("/:id/messages", messageH.PostMessage)
	conversations.PUT("/:id/messages/read", messageH.MarkRead)
	conversations.GET("/:id/unread-count", messageH.UnreadCount)

	notifications := api.Group("/notifications")
	notifications.GET("", notificationH.List)
	notifications.GET("/unread-count", notificationH.UnreadCount)
	notifications.PATCH("/mark-read", notificationH.MarkAsRead)
	notifications.POST("", notificationH.Create)

	return r
}

// requestIDMiddleware propaga X-Request-ID o genera uno nuevo.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestid.Header))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(requestid.Header, id)
		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), id))
		c.Next()
	}
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			requestid.Field(c.Request.Context()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

func healthHandler(logger *zap.Logger, health HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("health check failed", requestid.Field(c.Request.Context()), zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
