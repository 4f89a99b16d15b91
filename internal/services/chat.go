package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/metrics"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/rooms"
	"github.com/thereayou/cabal/internal/store"
	"github.com/thereayou/cabal/internal/websocket"
)

var errMessageTooLong = errors.New("message too long")

// ConnectionRegistry is the write side of the connection registry.
type ConnectionRegistry interface {
	Register(client *websocket.Client) error
	Unregister(client *websocket.Client) bool
	Get(username string) (*websocket.Client, bool)
}

// RoomDirectory is what the chat protocol needs from the room registry.
type RoomDirectory interface {
	CreateRoom(name string, typ models.RoomType, initialMembers []string) (*models.Room, error)
	JoinRoom(username, name string) bool
	LeaveRoom(username, name string)
	Touch(name string) bool
	Get(name string) (*models.Room, bool)
	Summaries() []models.RoomSummary
}

// MessageRepository is what the chat protocol needs from the message store.
type MessageRepository interface {
	Store(ctx context.Context, msg models.Message) error
	Edit(ctx context.Context, id, content, username string) (models.Message, error)
	Delete(ctx context.Context, id, username string) (models.Message, error)
	History(ctx context.Context, room string, limit int) ([]models.Message, error)
	Remove(ctx context.Context, msg models.Message) error
}

type ChatConfig struct {
	DefaultRoom      string
	HistoryLimit     int
	MaxMessageLength int
	Retry            RetryPolicy
}

type frameHandler func(ctx context.Context, client *websocket.Client, raw []byte) error

// ChatService drives the connection lifecycle and turns inbound frames into
// registry and store calls. Follow-up broadcasts come from the domain events.
type ChatService struct {
	conns       ConnectionRegistry
	rooms       RoomDirectory
	messages    MessageRepository
	broadcaster *Broadcaster
	cfg         ChatConfig
	validate    *validator.Validate
	handlers    map[string]frameHandler
	log         zerolog.Logger
	now         func() time.Time
}

func NewChatService(conns ConnectionRegistry, directory RoomDirectory, messages MessageRepository, broadcaster *Broadcaster, cfg ChatConfig, log zerolog.Logger) *ChatService {
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = "general"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	s := &ChatService{
		conns:       conns,
		rooms:       directory,
		messages:    messages,
		broadcaster: broadcaster,
		cfg:         cfg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log.With().Str("component", "chat").Logger(),
		now:         time.Now,
	}
	s.handlers = map[string]frameHandler{
		EventSendMessage:   s.sendMessage,
		EventEditMessage:   s.editMessage,
		EventDeleteMessage: s.deleteMessage,
		EventJoinRoom:      s.joinRoom,
		EventLeaveRoom:     s.leaveRoom,
		EventCreateRoom:    s.createRoom,
	}
	return s
}

// Seed creates the given rooms as cabals, skipping the ones that exist.
func (s *ChatService) Seed(names []string) {
	for _, name := range names {
		s.ensureRoom(name)
	}
}

// Connect registers client, puts it in the default room and refreshes
// everyone's presence and room list. ErrDuplicateUsername means the
// connection must be refused.
func (s *ChatService) Connect(ctx context.Context, client *websocket.Client) error {
	if err := s.conns.Register(client); err != nil {
		return err
	}

	room := s.cfg.DefaultRoom
	s.ensureRoom(room)
	client.SetCurrentRoom(room)
	s.rooms.JoinRoom(client.Username, room)

	s.broadcaster.Presence()
	s.broadcaster.RoomList(s.rooms.Summaries())
	s.sendHistory(ctx, client, room)

	s.log.Info().Str("username", client.Username).Str("room", room).Msg("client connected")
	return nil
}

// HandleClose leaves the client's current room and unregisters it. The room is
// left while the username is still held, so a reconnect cannot slip in
// between and lose its own membership.
func (s *ChatService) HandleClose(_ context.Context, client *websocket.Client) {
	if current, ok := s.conns.Get(client.Username); !ok || current != client {
		return
	}
	if room := client.CurrentRoom(); room != "" {
		s.rooms.LeaveRoom(client.Username, room)
	}
	if !s.conns.Unregister(client) {
		return
	}
	s.broadcaster.Presence()
	s.log.Info().Str("username", client.Username).Msg("client disconnected")
}

// HandleFrame processes one inbound frame. Failures go back to the sender as
// an error event; the connection stays open.
func (s *ChatService) HandleFrame(ctx context.Context, client *websocket.Client, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || s.validate.Struct(env) != nil {
		metrics.FramesTotal.WithLabelValues("malformed").Inc()
		s.broadcaster.Error(client.Username, "Invalid message format")
		return
	}

	handle, ok := s.handlers[env.Event]
	if !ok {
		metrics.FramesTotal.WithLabelValues("unknown").Inc()
		s.log.Debug().Str("username", client.Username).Str("event", env.Event).Msg("unknown event")
		s.broadcaster.Error(client.Username, fmt.Sprintf("Unknown event: %s", env.Event))
		return
	}
	metrics.FramesTotal.WithLabelValues(env.Event).Inc()

	if err := handle(ctx, client, raw); err != nil {
		s.log.Warn().Err(err).Str("username", client.Username).Str("event", env.Event).Msg("frame rejected")
		s.broadcaster.Error(client.Username, userMessage(env.Event, err))
	}
}

func (s *ChatService) sendMessage(ctx context.Context, client *websocket.Client, raw []byte) error {
	req, err := decode[sendMessageRequest](s.validate, raw)
	if err != nil {
		return err
	}
	if err := s.checkLength(req.Message); err != nil {
		return err
	}
	if _, ok := s.rooms.Get(req.RoomName); !ok {
		return rooms.ErrRoomNotFound
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		RoomName:  req.RoomName,
		Username:  client.Username,
		AvatarURL: client.AvatarURL,
		Content:   req.Message,
		Timestamp: models.Millis(s.now()),
	}
	if err := s.messages.Store(ctx, msg); err != nil {
		return err
	}
	if !s.rooms.Touch(req.RoomName) {
		// The room expired while the message was being written.
		if err := s.messages.Remove(ctx, msg); err != nil {
			s.log.Error().Err(err).Str("message_id", msg.ID).Str("room", req.RoomName).Msg("failed to remove message of expired room")
		}
		return rooms.ErrRoomNotFound
	}
	return nil
}

func (s *ChatService) editMessage(ctx context.Context, client *websocket.Client, raw []byte) error {
	req, err := decode[editMessageRequest](s.validate, raw)
	if err != nil {
		return err
	}
	if err := s.checkLength(req.NewContent); err != nil {
		return err
	}
	_, err = s.messages.Edit(ctx, req.MessageID, req.NewContent, client.Username)
	return err
}

func (s *ChatService) deleteMessage(ctx context.Context, client *websocket.Client, raw []byte) error {
	req, err := decode[deleteMessageRequest](s.validate, raw)
	if err != nil {
		return err
	}
	_, err = s.messages.Delete(ctx, req.MessageID, client.Username)
	return err
}

func (s *ChatService) joinRoom(ctx context.Context, client *websocket.Client, raw []byte) error {
	req, err := decode[roomRequest](s.validate, raw)
	if err != nil {
		return err
	}

	// The joiner views the room before the joined event goes out, so it
	// receives the member update too.
	previous := client.CurrentRoom()
	client.SetCurrentRoom(req.RoomName)
	if !s.rooms.JoinRoom(client.Username, req.RoomName) {
		client.SetCurrentRoom(previous)
		return rooms.ErrRoomNotFound
	}
	s.sendHistory(ctx, client, req.RoomName)
	return nil
}

func (s *ChatService) leaveRoom(_ context.Context, client *websocket.Client, raw []byte) error {
	req, err := decode[roomRequest](s.validate, raw)
	if err != nil {
		return err
	}
	if _, ok := s.rooms.Get(req.RoomName); !ok {
		return rooms.ErrRoomNotFound
	}
	s.rooms.LeaveRoom(client.Username, req.RoomName)
	return nil
}

func (s *ChatService) createRoom(_ context.Context, _ *websocket.Client, raw []byte) error {
	req, err := decode[createRoomRequest](s.validate, raw)
	if err != nil {
		return err
	}
	_, err = s.rooms.CreateRoom(req.RoomName, models.RoomType(req.RoomType), req.InitialMembers)
	return err
}

func (s *ChatService) sendHistory(ctx context.Context, client *websocket.Client, room string) {
	history, err := s.messages.History(ctx, room, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Error().Err(err).Str("room", room).Msg("failed to load history")
		s.broadcaster.Error(client.Username, "Failed to load room history")
		return
	}
	frame := RoomHistoryFrame{Event: EventRoomHistory, RoomName: room, Messages: history}
	s.broadcaster.ToUsersWithRetry(ctx, frame, []string{client.Username}, s.cfg.Retry)
}

func (s *ChatService) ensureRoom(name string) {
	if _, ok := s.rooms.Get(name); ok {
		return
	}
	if _, err := s.rooms.CreateRoom(name, models.RoomTypeCabal, nil); err != nil && !errors.Is(err, rooms.ErrRoomExists) {
		s.log.Error().Err(err).Str("room", name).Msg("failed to create room")
	}
}

func (s *ChatService) checkLength(content string) error {
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return errMessageTooLong
	}
	return nil
}

func decode[T any](validate *validator.Validate, raw []byte) (T, error) {
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return req, nil
}

// userMessage maps a failure to the short reason shown to the sender.
func userMessage(event string, err error) string {
	switch {
	case errors.Is(err, ErrMalformedFrame), errors.Is(err, store.ErrInvalidMessage):
		return "Invalid message format"
	case errors.Is(err, errMessageTooLong):
		return "Message too long"
	case errors.Is(err, store.ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, store.ErrNotAuthorized):
		return "Not authorized"
	case errors.Is(err, rooms.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, rooms.ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, rooms.ErrInvalidRoom):
		return "Invalid room"
	}

	switch event {
	case EventSendMessage:
		return "Failed to send message"
	case EventEditMessage:
		return "Failed to edit message"
	case EventDeleteMessage:
		return "Failed to delete message"
	case EventJoinRoom:
		return "Failed to join room"
	case EventLeaveRoom:
		return "Failed to leave room"
	case EventCreateRoom:
		return "Failed to create room"
	}
	return "Something went wrong"
}
