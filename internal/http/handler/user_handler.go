package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/http/middleware"
	"github.com/keystonehq/identity/internal/service"
)

// UserHandler exposes profile and admin user endpoints.
type UserHandler struct {
	Users  *service.UserService
	Cfg    config.Config
	Logger *zap.Logger
}

// NewUserHandler creates the handler set.
func NewUserHandler(users *service.UserService, cfg config.Config, logger *zap.Logger) *UserHandler {
	return &UserHandler{Users: users, Cfg: cfg, Logger: logger}
}

// GetProfile handles GET /api/users/profile.
func (h *UserHandler) GetProfile(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	profile, err := h.Users.GetProfile(c.Request.Context(), payload.UserID)
	if err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// UpdateProfile handles PUT /api/users/profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	var req struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid profile payload"})
		return
	}

	profile, err := h.Users.UpdateProfile(c.Request.Context(), payload.UserID, req.FirstName, req.LastName)
	if err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile, "message": "Profile updated successfully"})
}

// DeleteAccount handles DELETE /api/users/account (soft delete).
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	if err := h.Users.DeactivateAccount(c.Request.Context(), payload.UserID); err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deactivated successfully"})
}

// ListUsers handles GET /api/users (admin only).
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.Users.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(users), "users": users})
}
