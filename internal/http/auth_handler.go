package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convo-llm/internal/service"
)

// AuthHandler emite y rota tokens JWT para dispositivos cliente.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.DeviceAuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.DeviceAuthService) *AuthHandler {
	return &AuthHandler{logger: logger, auth: auth}
}

// IssueToken maneja POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		DeviceID  string `json:"device_id" binding:"required"`
		AccessKey string `json:"access_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid token request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.auth.Login(req.DeviceID, req.AccessKey)
	if err != nil {
		h.logger.Warn("device login failed", zap.Error(err), zap.String("device_id", req.DeviceID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.auth.Logout(req.RefreshToken); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}
