package auth

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	IdentityKey = "identity"
	RolesKey    = "roles"
)

// Middleware validates the bearer token and injects the identity for downstream handlers.
// Browsers cannot set headers on a websocket upgrade, so the access_token query parameter is accepted too.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenStr == "" {
			tokenStr = c.Query("access_token")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errors.Code(errors.ErrUnauthenticated), "error": "authorization token is missing"})
			return
		}

		claims, err := verifier.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errors.Code(err), "error": "invalid or expired token"})
			return
		}

		c.Set(IdentityKey, claims.Identity())
		c.Set(RolesKey, claims.Roles)
		c.Next()
	}
}

// IdentityFrom returns the identity injected by Middleware.
func IdentityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if identity, ok := v.(domain.Identity); ok {
			return identity
		}
	}
	return ""
}
