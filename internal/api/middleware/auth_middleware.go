package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/database"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey             = "userID"
	RoleKey               = "role"
	MustChangePasswordKey = "mustChangePassword"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// TokenValidator is the part of auth.AuthService the middleware needs.
type TokenValidator interface {
	ValidateToken(token string) (*auth.TokenClaims, error)
}

// AuthMiddleware validates the bearer access token and injects userID, role and the
// must-change-password flag into the context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			abortUnauthorized(c)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Set(MustChangePasswordKey, claims.MustChangePassword)
		c.Next()
	}
}

// AdminMiddleware rejects callers whose token does not carry the ADMIN role.
// It must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != database.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}
