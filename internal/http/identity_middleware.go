package http

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/service"
)

const identityKey = "auth_identity"

// IdentityMiddleware valida el access token (Authorization: Bearer o ?token=
// para el handshake del socket) y guarda la identidad en el contexto.
func IdentityMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			abortWithError(c, service.ErrUnauthorized)
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			abortWithError(c, service.ErrUnauthorized)
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			abortWithError(c, service.ErrUnauthorized)
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// GetIdentity obtiene la identidad autenticada desde el contexto.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}
