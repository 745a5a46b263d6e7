// README: Firebase bearer-token auth middleware.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"farebid/internal/infra"
)

const (
	CtxUID  = "auth_uid"
	CtxRole = "auth_role"
)

// Auth verifies the Authorization bearer token and stashes the caller's UID
// and role claim on the request context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(CtxRole, role)
		}
		c.Next()
	}
}

func UID(c *gin.Context) string {
	return c.GetString(CtxUID)
}

func Role(c *gin.Context) string {
	return c.GetString(CtxRole)
}
