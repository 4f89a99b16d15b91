package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/cabal/internal/handlers/dto"
	"github.com/thereayou/cabal/internal/middleware"
	"github.com/thereayou/cabal/internal/websocket"
)

// Presence lists who is connected right now.
type Presence interface {
	Usernames() []string
	Get(username string) (*websocket.Client, bool)
}

type UserHandler struct {
	presence Presence
}

func NewUserHandler(presence Presence) *UserHandler {
	return &UserHandler{presence: presence}
}

// GetMe returns the authenticated user.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	_, online := h.presence.Get(user.Username)
	resp := dto.UserResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		Online:    online,
	}
	if !user.LastSeenAt.IsZero() {
		resp.LastSeenAt = user.LastSeenAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, dto.OnlineUsersResponse{Users: h.presence.Usernames()})
}
