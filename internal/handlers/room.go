package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/cabal/internal/handlers/dto"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/rooms"
)

// RoomCatalog is the room registry as seen by the HTTP API.
type RoomCatalog interface {
	CreateRoom(name string, typ models.RoomType, initialMembers []string) (*models.Room, error)
	Get(name string) (*models.Room, bool)
	Summaries() []models.RoomSummary
}

type RoomHandler struct {
	rooms RoomCatalog
}

func NewRoomHandler(catalog RoomCatalog) *RoomHandler {
	return &RoomHandler{rooms: catalog}
}

// ListRooms returns every room summary.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, dto.RoomsResponse{Rooms: h.rooms.Summaries()})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, ok := h.rooms.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, dto.RoomResponse{RoomSummary: room.Summary(), Members: room.MemberList()})
}

// CreateRoom creates a room; connected clients learn about it through the
// usual update-rooms broadcast.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name           string   `json:"name" binding:"required,max=100"`
		Type           string   `json:"type" binding:"omitempty,oneof=cabal colloquy"`
		InitialMembers []string `json:"initial_members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(req.Name, models.RoomType(req.Type), req.InitialMembers)
	switch {
	case errors.Is(err, rooms.ErrRoomExists):
		c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
		return
	case errors.Is(err, rooms.ErrInvalidRoom):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, dto.RoomResponse{RoomSummary: room.Summary(), Members: room.MemberList()})
}
