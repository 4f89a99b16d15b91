package services

import (
	"errors"

	"github.com/thereayou/cabal/internal/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Client to server events.
const (
	EventSendMessage   = "send-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventCreateRoom    = "create-room"
)

// Server to client events.
const (
	EventUpdateUsers       = "update-users"
	EventUpdateRooms       = "update-rooms"
	EventUpdateRoomMembers = "update-room-members"
	EventNewMessage        = "new-message"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventRoomHistory       = "room-history"
	EventError             = "error"
	EventExpired           = "expired"
)

// envelope is decoded first to pick the handler for a frame.
type envelope struct {
	Event string `json:"event" validate:"required"`
}

type sendMessageRequest struct {
	RoomName string `json:"roomName" validate:"required"`
	Message  string `json:"message" validate:"required"`
}

type editMessageRequest struct {
	MessageID  string `json:"messageId" validate:"required"`
	NewContent string `json:"newContent" validate:"required"`
}

type deleteMessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

type roomRequest struct {
	RoomName string `json:"roomName" validate:"required"`
}

type createRoomRequest struct {
	RoomName       string   `json:"roomName" validate:"required"`
	RoomType       string   `json:"roomType" validate:"omitempty,oneof=cabal colloquy"`
	InitialMembers []string `json:"initialMembers" validate:"omitempty,dive,required"`
}

type UsersFrame struct {
	Event string   `json:"event"`
	Users []string `json:"users"`
}

type RoomsFrame struct {
	Event string               `json:"event"`
	Rooms []models.RoomSummary `json:"rooms"`
}

type RoomMembersFrame struct {
	Event    string   `json:"event"`
	RoomName string   `json:"roomName"`
	Members  []string `json:"members"`
}

// MessageFrame carries new-message and message-edited.
type MessageFrame struct {
	Event   string         `json:"event"`
	Message models.Message `json:"message"`
}

type MessageDeletedFrame struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	RoomName  string `json:"roomName"`
}

type RoomHistoryFrame struct {
	Event    string           `json:"event"`
	RoomName string           `json:"roomName"`
	Messages []models.Message `json:"messages"`
}

type ErrorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type ExpiredFrame struct {
	Event    string `json:"event"`
	RoomName string `json:"roomName"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
