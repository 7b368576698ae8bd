package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/http/middleware"
	"github.com/keystonehq/identity/internal/service"
)

const refreshCookieName = "refreshToken"

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	Cfg    config.Config
	Logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, cfg config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Cfg: cfg, Logger: logger}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required,email"`
		Password  string `json:"password" binding:"required,min=8"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid registration payload"})
		return
	}

	result, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login handles POST /api/auth/login. On full success the refresh token is
// placed in an HTTP-only cookie and never in the JSON body.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		TotpCode string `json:"totpCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid login payload"})
		return
	}

	result, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password, req.TotpCode, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.RequiresMfa {
		c.JSON(http.StatusOK, gin.H{
			"requiresMfa": true,
			"tempToken":   result.TempToken,
			"message":     "MFA code required",
		})
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"user":        result.User,
		"accessToken": result.AccessToken,
		"message":     "Login successful",
	})
}

// MfaLogin handles POST /api/auth/mfa/login, completing a stepped-up
// login with the temp token from the first phase.
func (h *AuthHandler) MfaLogin(c *gin.Context) {
	var req struct {
		TempToken string `json:"tempToken" binding:"required"`
		TotpCode  string `json:"totpCode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid MFA login payload"})
		return
	}

	result, err := h.Auth.CompleteMfaLogin(c.Request.Context(), req.TempToken, req.TotpCode)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"user":        result.User,
		"accessToken": result.AccessToken,
		"message":     "Login successful",
	})
}

// Refresh handles POST /api/auth/refresh. A dead refresh token clears the
// cookie so the client does not retry with it.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(refreshCookieName)

	access, err := h.Auth.Refresh(c.Request.Context(), raw)
	if err != nil {
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			h.clearRefreshCookie(c)
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access})
}

// Logout handles POST /api/auth/logout. Idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(refreshCookieName)

	if err := h.Auth.Logout(c.Request.Context(), raw); err != nil {
		h.respondError(c, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// VerifyEmail handles GET /api/auth/verify-email?token=.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	tokenParam := c.Query("token")
	if tokenParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Verification token is required"})
		return
	}

	if err := h.Auth.VerifyEmail(c.Request.Context(), tokenParam); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

// ForgotPassword handles POST /api/auth/forgot-password. The response is
// identical whether or not the address exists.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Valid email is required"})
		return
	}

	if err := h.Auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": service.ForgotPasswordMessage})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Token and new password are required"})
		return
	}

	if err := h.Auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successfully"})
}

// EnableMfa handles POST /api/auth/mfa/enable.
func (h *AuthHandler) EnableMfa(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	setup, err := h.Auth.EnableMfa(c.Request.Context(), payload.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

// VerifyMfa handles POST /api/auth/mfa/verify.
func (h *AuthHandler) VerifyMfa(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	var req struct {
		TotpCode string `json:"totpCode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "MFA code is required"})
		return
	}

	if err := h.Auth.VerifyMfa(c.Request.Context(), payload.UserID, req.TotpCode); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "MFA enabled successfully"})
}

// DisableMfa handles POST /api/auth/mfa/disable.
func (h *AuthHandler) DisableMfa(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
		return
	}

	var req struct {
		TotpCode string `json:"totpCode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "MFA code is required"})
		return
	}

	if err := h.Auth.DisableMfa(c.Request.Context(), payload.UserID, req.TotpCode); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "MFA disabled successfully"})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, raw string) {
	c.SetSameSite(sameSiteMode(h.Cfg.CookieSameSite))
	c.SetCookie(refreshCookieName, raw, int(h.Cfg.RefreshTokenTTL.Seconds()), "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(sameSiteMode(h.Cfg.CookieSameSite))
	c.SetCookie(refreshCookieName, "", -1, "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
}

func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	respondError(c, err, h.Cfg, h.Logger)
}

// respondError maps domain errors to client responses. Unknown errors
// become a generic 500 with detail suppressed outside development mode.
func respondError(c *gin.Context, err error, cfg config.Config, logger *zap.Logger) {
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		c.JSON(authErr.Status, gin.H{"error": authErr.Code, "message": authErr.Message})
		return
	}

	if logger != nil {
		logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	message := "Internal server error"
	if cfg.IsDevelopment() {
		message = err.Error()
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": message})
}
