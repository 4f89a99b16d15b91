package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/metrics"
	"github.com/thereayou/cabal/internal/models"
)

type EventType string

const (
	MessageCreated EventType = "created"
	MessageEdited  EventType = "edited"
	MessageDeleted EventType = "deleted"
)

// MessageEvent is emitted after a message mutation has been persisted.
type MessageEvent struct {
	Type    EventType
	Message models.Message
}

// EventSink receives message events synchronously.
type EventSink interface {
	HandleMessageEvent(event MessageEvent)
}

// MessageStore persists messages twice: under ("messages", room, timestamp, id)
// for ordered room history and under ("message_by_id", id) for lookups. The
// by-id copy is authoritative for edit and delete.
type MessageStore struct {
	kv            KV
	sink          EventSink
	log           zerolog.Logger
	now           func() time.Time
	writeAttempts int
	writeBackoff  time.Duration
}

type Option func(*MessageStore)

// WithClock overrides the time source used for edit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

// WithWriteRetry sets how many times a failed dual write is attempted and the
// linear backoff step between attempts.
func WithWriteRetry(attempts int, backoff time.Duration) Option {
	return func(s *MessageStore) {
		if attempts > 0 {
			s.writeAttempts = attempts
		}
		s.writeBackoff = backoff
	}
}

func NewMessageStore(kv KV, sink EventSink, log zerolog.Logger, opts ...Option) *MessageStore {
	s := &MessageStore{
		kv:            kv,
		sink:          sink,
		log:           log.With().Str("component", "messages").Logger(),
		now:           time.Now,
		writeAttempts: 3,
		writeBackoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store persists a new message and emits a created event.
func (s *MessageStore) Store(ctx context.Context, msg models.Message) error {
	if !ValidKeyPart(msg.ID) || !ValidKeyPart(msg.RoomName) {
		return ErrInvalidMessage
	}
	if err := s.write(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("message_id", msg.ID).Str("room", msg.RoomName).Msg("failed to store message")
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(MessageCreated)).Inc()
	s.emit(MessageCreated, msg)
	return nil
}

// Get returns the message with the given id.
func (s *MessageStore) Get(ctx context.Context, id string) (models.Message, error) {
	if !ValidKeyPart(id) {
		return models.Message{}, ErrMessageNotFound
	}
	raw, err := s.kv.Get(ctx, idKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Message{}, fmt.Errorf("%w: decode message %s: %v", ErrStoreUnavailable, id, err)
	}
	return msg, nil
}

// Edit replaces the content of a message owned by username.
func (s *MessageStore) Edit(ctx context.Context, id, content, username string) (models.Message, error) {
	return s.mutate(ctx, id, username, MessageEdited, func(m *models.Message) {
		edited := models.Millis(s.now())
		m.Content = content
		m.Edited = &edited
	})
}

// Delete soft deletes a message owned by username.
func (s *MessageStore) Delete(ctx context.Context, id, username string) (models.Message, error) {
	return s.mutate(ctx, id, username, MessageDeleted, func(m *models.Message) {
		m.Deleted = true
	})
}

// Remove erases both copies of a message without emitting an event. It undoes
// a write whose room expired while the write was in flight.
func (s *MessageStore) Remove(ctx context.Context, msg models.Message) error {
	if !ValidKeyPart(msg.ID) || !ValidKeyPart(msg.RoomName) {
		return ErrInvalidMessage
	}
	if err := s.kv.Delete(ctx, idKey(msg.ID), roomKey(msg.RoomName, msg.Timestamp, msg.ID)); err != nil {
		return fmt.Errorf("%w: remove message %s: %v", ErrStoreUnavailable, msg.ID, err)
	}
	return nil
}

func (s *MessageStore) mutate(ctx context.Context, id, username string, typ EventType, apply func(*models.Message)) (models.Message, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Username != username {
		return models.Message{}, ErrNotAuthorized
	}
	apply(&msg)
	if err := s.write(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("message_id", id).Str("action", string(typ)).Msg("failed to update message")
		return models.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues(string(typ)).Inc()
	s.emit(typ, msg)
	return msg, nil
}

// write puts the same final value under both keys. The write is idempotent,
// so a failed attempt is simply repeated.
func (s *MessageStore) write(ctx context.Context, msg models.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	entries := []Entry{
		{Key: idKey(msg.ID), Value: value},
		{Key: roomKey(msg.RoomName, msg.Timestamp, msg.ID), Value: value},
	}

	var lastErr error
	for attempt := 1; attempt <= s.writeAttempts; attempt++ {
		if lastErr = s.kv.Set(ctx, entries...); lastErr == nil {
			return nil
		}
		if attempt == s.writeAttempts {
			break
		}
		s.log.Warn().Err(lastErr).Str("message_id", msg.ID).Int("attempt", attempt).Msg("dual write failed, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * s.writeBackoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// History returns the newest limit messages of a room in ascending order.
func (s *MessageStore) History(ctx context.Context, room string, limit int) ([]models.Message, error) {
	return s.scanBackwards(ctx, room, nil, limit)
}

// HistoryBefore returns up to limit messages older than beforeID, ascending.
func (s *MessageStore) HistoryBefore(ctx context.Context, room, beforeID string, limit int) ([]models.Message, error) {
	before, err := s.Get(ctx, beforeID)
	if err != nil {
		return nil, err
	}
	if before.RoomName != room {
		return nil, ErrMessageNotFound
	}
	return s.scanBackwards(ctx, room, roomKey(room, before.Timestamp, before.ID), limit)
}

func (s *MessageStore) scanBackwards(ctx context.Context, room string, before Key, limit int) ([]models.Message, error) {
	if !ValidKeyPart(room) {
		return []models.Message{}, nil
	}
	var messages []models.Message
	opts := ScanOptions{Reverse: true, Before: before, Limit: limit}
	err := s.kv.Scan(ctx, roomPrefix(room), opts, func(_ Key, value []byte) error {
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		messages = append(messages, msg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", ErrStoreUnavailable, room, err)
	}

	// Scanned newest first, callers get oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// Each calls fn for every stored message in key order. An empty room walks
// all rooms.
func (s *MessageStore) Each(ctx context.Context, room string, fn func(models.Message) error) error {
	prefix := NewKey(nsMessages).Prefix()
	if room != "" {
		if !ValidKeyPart(room) {
			return nil
		}
		prefix = roomPrefix(room)
	}
	return s.kv.Scan(ctx, prefix, ScanOptions{}, func(key Key, value []byte) error {
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(msg)
	})
}

// PurgeRoom removes both copies of every message of a room.
func (s *MessageStore) PurgeRoom(ctx context.Context, room string) error {
	if !ValidKeyPart(room) {
		return nil
	}
	var keys []Key
	err := s.kv.Scan(ctx, roomPrefix(room), ScanOptions{}, func(key Key, value []byte) error {
		keys = append(keys, key)
		var msg models.Message
		if err := json.Unmarshal(value, &msg); err == nil && msg.ID != "" {
			keys = append(keys, idKey(msg.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scan room %s: %v", ErrStoreUnavailable, room, err)
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: purge room %s: %v", ErrStoreUnavailable, room, err)
	}
	s.log.Debug().Str("room", room).Int("keys", len(keys)).Msg("room messages purged")
	return nil
}

func (s *MessageStore) emit(typ EventType, msg models.Message) {
	if s.sink != nil {
		s.sink.HandleMessageEvent(MessageEvent{Type: typ, Message: msg})
	}
}
