package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/service"
)

const claimsKey = "tokenPayload"

// Auth validates the Authorization header and attaches the decoded token
// payload to the request context.
type Auth struct {
	AuthService *service.AuthService
}

// RequireAuth ensures the request carries a valid bearer access token.
func (m *Auth) RequireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authorization header required"})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Bearer token required"})
		return
	}

	payload, err := m.AuthService.VerifyAccessToken(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "Invalid or expired access token"})
		return
	}

	c.Set(claimsKey, payload)
	c.Next()
}

// RequireRole gates a route on the caller holding any of the given roles.
// Must run after RequireAuth.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := GetTokenPayload(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authentication required"})
			return
		}
		for _, want := range roles {
			for _, have := range payload.Roles {
				if have == want {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Insufficient permissions"})
	}
}

// GetTokenPayload exposes the decoded access token claims to handlers.
func GetTokenPayload(c *gin.Context) (domain.TokenPayload, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return domain.TokenPayload{}, false
	}
	payload, ok := value.(domain.TokenPayload)
	return payload, ok
}
