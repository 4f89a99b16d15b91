package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/cabal/internal/handlers/dto"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/store"
)

const defaultHistoryLimit = 50

// MessageHistory is the read side of the message store.
type MessageHistory interface {
	History(ctx context.Context, room string, limit int) ([]models.Message, error)
	HistoryBefore(ctx context.Context, room, beforeID string, limit int) ([]models.Message, error)
}

type HTTPMessageHandler struct {
	messages MessageHistory
	rooms    RoomCatalog
}

func NewHTTPMessageHandler(messages MessageHistory, catalog RoomCatalog) *HTTPMessageHandler {
	return &HTTPMessageHandler{messages: messages, rooms: catalog}
}

// GetRoomMessages returns one page of a room's history, oldest first.
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.rooms.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultHistoryLimit
	}

	var (
		messages []models.Message
		err      error
	)
	if q.Before != "" {
		messages, err = h.messages.HistoryBefore(c.Request.Context(), name, q.Before, q.Limit)
	} else {
		messages, err = h.messages.History(c.Request.Context(), name, q.Limit)
	}
	switch {
	case errors.Is(err, store.ErrMessageNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown before message"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{RoomName: name, Messages: messages})
}
