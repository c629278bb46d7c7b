package middlewares

import (
	"github.com/dairyops/dairyhub/internal/actorctx"
	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/dairyops/dairyhub/internal/auth"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifySession(token string) (auth.Payload, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth admits requests carrying a valid session token and attaches
// the caller's identity to both the gin context and the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, apperr.KindUnauthenticated, "No token provided")
			return
		}

		p, err := m.tokens.VerifySession(raw)
		if err != nil {
			abortWithError(c, apperr.KindUnauthenticated, "Invalid or expired token")
			return
		}

		// Stash useful bits of identity on the context
		c.Set(ctxUserIDKey, p.UserID)
		c.Set(ctxRoleKey, p.Role)

		ctx := actorctx.WithIdentity(c.Request.Context(), actorctx.Identity{
			UserID: p.UserID,
			Email:  p.Email,
			Role:   p.Role,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Optional helpers so handlers don’t need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func RoleFromContext(c *gin.Context) (user.Role, bool) {
	v, ok := c.Get(ctxRoleKey)
	if !ok {
		return "", false
	}
	role, ok := v.(user.Role)
	return role, ok && role != ""
}
