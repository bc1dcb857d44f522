package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samiam2007/kc-media-leadgen/internal/auth"
)

// RequireAnyRole allows access if the caller has any of the provided
// roles. admin bypasses all checks. Must be mounted after the token
// middleware so the identity is in the request context.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
