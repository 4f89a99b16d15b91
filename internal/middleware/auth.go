package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/pkg/auth"
)

const (
	UserKey  = "user"
	TokenKey = "token"
)

// TokenResolver turns a session token into its user.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware requires a valid Bearer token.
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		if !authenticate(c, resolver, token) {
			return
		}
		c.Next()
	}
}

// WSAuthMiddleware resolves the handshake token from the query or header. A
// handshake without a token passes through anonymously unless required is set.
func WSAuthMiddleware(resolver TokenResolver, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if errors.Is(err, auth.ErrMissingToken) && !required {
			c.Next()
			return
		}
		if err != nil || resolver == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if !authenticate(c, resolver, token) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, resolver TokenResolver, token string) bool {
	user, err := resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return false
	}
	c.Set(UserKey, user)
	c.Set(TokenKey, token)
	return true
}

// CurrentUser returns the user set by the auth middlewares.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
