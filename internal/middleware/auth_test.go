package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cabal/internal/models"
)

type resolverFunc func(ctx context.Context, token string) (*models.User, error)

func (f resolverFunc) Resolve(ctx context.Context, token string) (*models.User, error) {
	return f(ctx, token)
}

var alice = resolverFunc(func(_ context.Context, token string) (*models.User, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &models.User{Username: "alice"}, nil
})

func serve(t *testing.T, mw gin.HandlerFunc, target, header string) (int, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, user.Username)
	})

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code, w.Body.String()
}

func TestAuthMiddleware(t *testing.T) {
	req := require.New(t)

	code, body := serve(t, AuthMiddleware(alice), "/", "Bearer good")
	req.Equal(http.StatusOK, code)
	req.Equal("alice", body)

	code, _ = serve(t, AuthMiddleware(alice), "/", "Bearer bad")
	req.Equal(http.StatusUnauthorized, code)

	code, _ = serve(t, AuthMiddleware(alice), "/", "")
	req.Equal(http.StatusUnauthorized, code)
}

func TestWSAuthMiddleware(t *testing.T) {
	req := require.New(t)

	code, body := serve(t, WSAuthMiddleware(alice, false), "/?token=good", "")
	req.Equal(http.StatusOK, code)
	req.Equal("alice", body)

	code, body = serve(t, WSAuthMiddleware(alice, false), "/", "")
	req.Equal(http.StatusOK, code)
	req.Equal("anonymous", body)

	code, _ = serve(t, WSAuthMiddleware(alice, true), "/", "")
	req.Equal(http.StatusUnauthorized, code)

	code, _ = serve(t, WSAuthMiddleware(alice, false), "/?token=bad", "")
	req.Equal(http.StatusUnauthorized, code)

	// Accounts disabled: a token cannot be honoured.
	code, _ = serve(t, WSAuthMiddleware(nil, false), "/?token=good", "")
	req.Equal(http.StatusUnauthorized, code)
}
