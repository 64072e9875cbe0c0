package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashboard-messaging/internal/requestid"
	"dashboard-messaging/internal/service"
)

// statusFor traduce los errores de servicio a códigos HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "too many messages"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError responde con el código que corresponde; los 500 se registran
// con el id de correlación y no exponen el detalle.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		id := requestid.From(c.Request.Context())
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", id),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": msg, "requestId": id})
		return
	}
	c.JSON(status, gin.H{"error": msg})
}

func abortWithError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
