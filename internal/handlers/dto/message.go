package dto

import "github.com/thereayou/cabal/internal/models"

// HistoryQuery pages backwards through a room: without Before it returns the
// newest messages.
type HistoryQuery struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Before string `form:"before"`
}

type HistoryResponse struct {
	RoomName string           `json:"roomName"`
	Messages []models.Message `json:"messages"`
}

type RoomsResponse struct {
	Rooms []models.RoomSummary `json:"rooms"`
}

type RoomResponse struct {
	models.RoomSummary
	Members []string `json:"members"`
}

type OnlineUsersResponse struct {
	Users []string `json:"users"`
}
