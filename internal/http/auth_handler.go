package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"avatar-api/internal/service"
)

// AuthHandler expone login social y endpoints protegidos por firma.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   auth,
	}
}

// SocialLogin maneja POST /auth/social-login.
func (h *AuthHandler) SocialLogin(c *gin.Context) {
	var req struct {
		Provider string `json:"provider" binding:"required,oneof=google facebook"`
		Token    string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid social login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Provider, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredential):
			h.logger.Info("social login rejected", zap.String("provider", req.Provider), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential"})
		case errors.Is(err, service.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		default:
			h.logger.Error("social login failed", zap.String("provider", req.Provider), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not complete login"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// Profile maneja GET /auth/profile.
func (h *AuthHandler) Profile(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Verify maneja GET /auth/verify.
func (h *AuthHandler) Verify(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}
