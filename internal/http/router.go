package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/cors"
	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/http/handler"
	httpmiddleware "github.com/keystonehq/identity/internal/http/middleware"
	"github.com/keystonehq/identity/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	corsHandler *handler.CorsHandler,
	authMiddleware *httpmiddleware.Auth,
	originCache *cors.Cache,
	rateLimiter *middleware.RateLimiter,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.DynamicCORS(originCache))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		limited := auth.Group("")
		limited.Use(rateLimiter.Handler())
		limited.POST("/register", authHandler.Register)
		limited.POST("/login", authHandler.Login)
		limited.POST("/mfa/login", authHandler.MfaLogin)
		limited.POST("/forgot-password", authHandler.ForgotPassword)
		limited.POST("/reset-password", authHandler.ResetPassword)

		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/verify-email", authHandler.VerifyEmail)

		mfa := auth.Group("/mfa", authMiddleware.RequireAuth)
		{
			mfa.POST("/enable", authHandler.EnableMfa)
			mfa.POST("/verify", authHandler.VerifyMfa)
			mfa.POST("/disable", authHandler.DisableMfa)
		}
	}

	users := api.Group("/users", authMiddleware.RequireAuth)
	{
		users.GET("/profile", userHandler.GetProfile)
		users.PUT("/profile", userHandler.UpdateProfile)
		users.DELETE("/account", userHandler.DeleteAccount)
		users.GET("", httpmiddleware.RequireRole(domain.RoleAdmin), userHandler.ListUsers)
	}

	admin := api.Group("/admin", authMiddleware.RequireAuth, httpmiddleware.RequireRole(domain.RoleAdmin))
	{
		admin.GET("/cors", corsHandler.GetConfig)
		admin.POST("/cors/refresh", corsHandler.RefreshCache)
		admin.GET("/origins", corsHandler.ListOrigins)
		admin.POST("/origins", corsHandler.CreateOrigin)
		admin.GET("/origins/:id", corsHandler.GetOrigin)
		admin.PUT("/origins/:id", corsHandler.UpdateOrigin)
		admin.DELETE("/origins/:id", corsHandler.DeleteOrigin)
		admin.PATCH("/origins/:id/toggle", corsHandler.ToggleOrigin)
	}

	return r
}
