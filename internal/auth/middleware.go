package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// ActorAuth enforces bearer access tokens signed with HS256 and stores the
// claims on the gin context.
func ActorAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(strings.TrimSpace(authz[len("bearer "):]), signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Type == tokenRefresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrRefreshToken.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects actors whose role is not listed. Must run after ActorAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok || !slices.Contains(roles, actor.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not permitted"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated actor.
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Actor{}, false
	}
	claims, ok := v.(Claims)
	if !ok {
		return Actor{}, false
	}
	return claims.Actor(), true
}
