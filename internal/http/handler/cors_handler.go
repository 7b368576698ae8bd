package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/cors"
	"github.com/keystonehq/identity/internal/repository"
)

// CorsHandler exposes the admin-only origin management endpoints.
type CorsHandler struct {
	Cache  *cors.Cache
	Cfg    config.Config
	Logger *zap.Logger
}

// NewCorsHandler creates the handler set.
func NewCorsHandler(cache *cors.Cache, cfg config.Config, logger *zap.Logger) *CorsHandler {
	return &CorsHandler{Cache: cache, Cfg: cfg, Logger: logger}
}

// GetConfig handles GET /api/admin/cors.
func (h *CorsHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Cache.Stats())
}

// RefreshCache handles POST /api/admin/cors/refresh.
func (h *CorsHandler) RefreshCache(c *gin.Context) {
	if err := h.Cache.Refresh(c.Request.Context()); err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "CORS cache refreshed successfully",
		"stats":   h.Cache.Stats(),
	})
}

// ListOrigins handles GET /api/admin/origins.
func (h *CorsHandler) ListOrigins(c *gin.Context) {
	origins, err := h.Cache.ListOrigins(c.Request.Context())
	if err != nil {
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(origins), "data": origins})
}

// GetOrigin handles GET /api/admin/origins/:id.
func (h *CorsHandler) GetOrigin(c *gin.Context) {
	id, ok := originID(c)
	if !ok {
		return
	}

	origin, err := h.Cache.GetOrigin(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Origin not found"})
			return
		}
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": origin})
}

// CreateOrigin handles POST /api/admin/origins.
func (h *CorsHandler) CreateOrigin(c *gin.Context) {
	var req struct {
		URL         string `json:"url" binding:"required,url"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "A valid url is required"})
		return
	}

	origin, err := h.Cache.AddOrigin(c.Request.Context(), req.URL, req.Description)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "Origin already exists"})
			return
		}
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": origin, "message": "Origin created successfully"})
}

// UpdateOrigin handles PUT /api/admin/origins/:id.
func (h *CorsHandler) UpdateOrigin(c *gin.Context) {
	id, ok := originID(c)
	if !ok {
		return
	}

	var req struct {
		URL         *string `json:"url"`
		Description *string `json:"description"`
		IsActive    *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid origin payload"})
		return
	}

	origin, err := h.Cache.UpdateOrigin(c.Request.Context(), id, req.URL, req.Description, req.IsActive)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Origin not found"})
			return
		}
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "Origin already exists"})
			return
		}
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": origin, "message": "Origin updated successfully"})
}

// DeleteOrigin handles DELETE /api/admin/origins/:id.
func (h *CorsHandler) DeleteOrigin(c *gin.Context) {
	id, ok := originID(c)
	if !ok {
		return
	}

	if err := h.Cache.DeleteOrigin(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Origin not found"})
			return
		}
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Origin deleted successfully"})
}

// ToggleOrigin handles PATCH /api/admin/origins/:id/toggle.
func (h *CorsHandler) ToggleOrigin(c *gin.Context) {
	id, ok := originID(c)
	if !ok {
		return
	}

	origin, err := h.Cache.ToggleOrigin(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Origin not found"})
			return
		}
		respondError(c, err, h.Cfg, h.Logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": origin, "message": "Origin status toggled successfully"})
}

func originID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Origin id must be an integer"})
		return 0, false
	}
	return id, true
}
