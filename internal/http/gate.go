package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"avatar-api/internal/domain"
	"avatar-api/internal/service"
)

const (
	HeaderProviderID = "X-Provider-ID"
	HeaderAuthToken  = "X-Auth-Token"

	currentUserKey = "current_user"
)

const (
	msgMissingHeaders = "missing authentication headers: send X-Provider-ID and X-Auth-Token"
	msgUnauthorized   = "unauthorized"
)

// Authenticator resuelve el usuario de una request firmada. service.AuthService lo implementa.
type Authenticator interface {
	Authenticate(ctx context.Context, providerID, signature string) (domain.User, error)
}

// SignatureGate exige X-Provider-ID y X-Auth-Token válidos y guarda el usuario en el contexto.
// Todos los rechazos salvo la falta de headers devuelven el mismo mensaje.
func SignatureGate(logger *zap.Logger, auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			c.Abort()
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), c.GetHeader(HeaderProviderID), c.GetHeader(HeaderAuthToken))
		if err != nil {
			reason := "unknown"
			var gateErr *service.GateError
			if errors.As(err, &gateErr) {
				reason = gateErr.Reason
			}
			logger.Info("request rejected",
				zap.String("reason", reason),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)

			switch {
			case errors.Is(err, service.ErrInternal):
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			case reason == service.ReasonMissingHeaders:
				c.JSON(http.StatusUnauthorized, gin.H{"error": msgMissingHeaders})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
			}
			c.Abort()
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

// CurrentUser obtiene el usuario autenticado por SignatureGate.
func CurrentUser(c *gin.Context) (domain.User, bool) {
	val, ok := c.Get(currentUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := val.(domain.User)
	return user, ok
}
