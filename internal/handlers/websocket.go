package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/database"
	"github.com/thereayou/cabal/internal/middleware"
	"github.com/thereayou/cabal/internal/models"
	ws "github.com/thereayou/cabal/internal/websocket"
)

var (
	errUsernameRequired   = errors.New("username is required")
	errUsernameRegistered = errors.New("username belongs to a registered account, log in to use it")
)

// AccountNames tells registered usernames apart from free ones.
type AccountNames interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// ChatSession owns the lifecycle of an upgraded connection.
type ChatSession interface {
	ws.FrameHandler
	Connect(ctx context.Context, client *ws.Client) error
}

// WebSocketHandler upgrades /ws requests and starts the connection pumps.
type WebSocketHandler struct {
	ctx        context.Context
	chat       ChatSession
	accounts   AccountNames
	bufferSize int
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewWebSocketHandler creates the handler. ctx outlives single requests and
// is handed to the read pumps. accounts may be nil when there are no
// registered users; otherwise anonymous handshakes cannot claim their names.
func NewWebSocketHandler(ctx context.Context, chat ChatSession, accounts AccountNames, bufferSize int, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:        ctx,
		chat:       chat,
		accounts:   accounts,
		bufferSize: bufferSize,
		log:        log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin checks happen at the reverse proxy.
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	username, avatarURL, err := h.identity(c)
	switch {
	case errors.Is(err, errUsernameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, errUsernameRegistered):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("account lookup failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify username"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	client := ws.NewClient(conn, username, avatarURL, "", h.bufferSize, h.log)
	if err := h.chat.Connect(h.ctx, client); err != nil {
		if errors.Is(err, ws.ErrDuplicateUsername) {
			h.log.Info().Str("username", username).Msg("duplicate username refused")
			ws.Reject(conn, websocket.ClosePolicyViolation, fmt.Sprintf("Username %s is already taken", username))
			return
		}
		h.log.Error().Err(err).Str("username", username).Msg("connection setup failed")
		ws.Reject(conn, websocket.CloseInternalServerErr, "Connection setup failed")
		return
	}

	go client.WritePump()
	go client.ReadPump(h.ctx, h.chat)
}

// identity takes the profile resolved by the auth middleware, or the
// username query parameter for anonymous handshakes. An anonymous name must
// not belong to a registered account.
func (h *WebSocketHandler) identity(c *gin.Context) (string, string, error) {
	if user, ok := middleware.CurrentUser(c); ok {
		p := user.Profile()
		return p.Username, p.AvatarURL, nil
	}

	var q struct {
		Username string `form:"username" binding:"required,max=50"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		return "", "", errUsernameRequired
	}
	username := strings.TrimSpace(q.Username)
	if username == "" {
		return "", "", errUsernameRequired
	}

	if h.accounts != nil {
		_, err := h.accounts.FindUserByUsername(c.Request.Context(), username)
		switch {
		case err == nil:
			return "", "", errUsernameRegistered
		case !errors.Is(err, database.ErrUserNotFound):
			return "", "", fmt.Errorf("lookup %s: %w", username, err)
		}
	}
	return username, "", nil
}
