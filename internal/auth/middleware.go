package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/spendguard/internal/logging"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID
	ContextKeyUserID = "authUserID"
	// ContextKeyRole is the gin context key for the authenticated user's role
	ContextKeyRole = "authRole"
)

// Middleware resolves X-User-ID against dir and stores the identity in the
// gin context. Unknown users stay unauthenticated; RequireAuth rejects them.
func Middleware(dir Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			c.Next()
			return
		}

		role, err := dir.RoleOf(c.Request.Context(), userID)
		switch {
		case err == nil:
			c.Set(ContextKeyUserID, userID)
			c.Set(ContextKeyRole, role)
		case errors.Is(err, ErrUnknownUser):
			logging.L(c.Request.Context()).Debug("unknown user in identity header", logging.FieldUserID, userID)
		default:
			logging.L(c.Request.Context()).Error("identity lookup failed", logging.FieldUserID, userID, logging.FieldError, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "identity_unavailable",
				"message": "Could not resolve the calling user.",
			})
			return
		}

		c.Next()
	}
}

// RequireGatewaySecret rejects requests whose X-Gateway-Secret does not
// match secret. An empty secret disables the check.
func RequireGatewaySecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(GatewaySecretHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Gateway credentials are missing or wrong.",
			})
			return
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a resolved user
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A known user is required. The gateway must set the X-User-ID header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin requires an authenticated user with the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A known user is required.",
			})
			return
		}
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user ID, or "" when unauthenticated
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// IsAuthenticated checks if the request carries a resolved user
func IsAuthenticated(c *gin.Context) bool {
	return GetUserID(c) != ""
}

// IsAdmin checks if the authenticated user has the admin role
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextKeyRole) == RoleAdmin
}
