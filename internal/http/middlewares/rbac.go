package middlewares

import (
	"slices"

	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// RequireRole must run after RequireAuth. No identity is a 401; an
// identity outside allowed is a 403.
func RequireRole(allowed ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok {
			abortWithError(c, apperr.KindUnauthenticated, "Authentication required")
			return
		}
		if !slices.Contains(allowed, role) {
			abortWithError(c, apperr.KindForbidden, "")
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return RequireRole(user.RoleAdmin)
}

func RequireUser() gin.HandlerFunc {
	return RequireRole(user.RoleUser, user.RoleAdmin)
}
