package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/thereayou/cabal/internal/metrics"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/websocket"
	"golang.org/x/sync/errgroup"
)

// Connections is the read side of the connection registry.
type Connections interface {
	Get(username string) (*websocket.Client, bool)
	Clients() []*websocket.Client
}

// RetryPolicy bounds ToUsersWithRetry. Attempt n waits n*Backoff before the
// next one.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Broadcaster fans encoded events out to live connections. It never fails:
// delivery problems are logged and counted.
type Broadcaster struct {
	conns Connections
	log   zerolog.Logger
}

func NewBroadcaster(conns Connections, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		conns: conns,
		log:   log.With().Str("component", "broadcast").Logger(),
	}
}

func (b *Broadcaster) ToAll(event any) {
	data, ok := b.encode(event)
	if !ok {
		return
	}
	for _, client := range b.conns.Clients() {
		b.deliver(client, data)
	}
}

// ToRoom sends to every connection whose current room is room.
func (b *Broadcaster) ToRoom(room string, event any) {
	data, ok := b.encode(event)
	if !ok {
		return
	}
	for _, client := range b.conns.Clients() {
		if client.CurrentRoom() == room {
			b.deliver(client, data)
		}
	}
}

// ToUser sends to one connection. It reports false when the user is offline
// or the frame could not be queued.
func (b *Broadcaster) ToUser(username string, event any) bool {
	client, ok := b.conns.Get(username)
	if !ok {
		return false
	}
	data, ok := b.encode(event)
	if !ok {
		return false
	}
	return b.deliver(client, data)
}

// Presence sends the sorted list of online usernames to everyone.
func (b *Broadcaster) Presence() {
	clients := b.conns.Clients()
	users := lo.Map(clients, func(c *websocket.Client, _ int) string { return c.Username })
	data, ok := b.encode(UsersFrame{Event: EventUpdateUsers, Users: nonNil(users)})
	if !ok {
		return
	}
	for _, client := range clients {
		b.deliver(client, data)
	}
}

// RoomList sends the room summaries to everyone.
func (b *Broadcaster) RoomList(rooms []models.RoomSummary) {
	b.ToAll(RoomsFrame{Event: EventUpdateRooms, Rooms: nonNil(rooms)})
}

// RoomMembers sends the member list of room to the connections viewing it.
func (b *Broadcaster) RoomMembers(room string, members []string) {
	b.ToRoom(room, RoomMembersFrame{Event: EventUpdateRoomMembers, RoomName: room, Members: nonNil(members)})
}

func (b *Broadcaster) Error(username, message string) {
	b.ToUser(username, ErrorFrame{Event: EventError, Message: message})
}

// ToAllWithRetry is ToUsersWithRetry over everyone online right now.
func (b *Broadcaster) ToAllWithRetry(ctx context.Context, event any, policy RetryPolicy) []string {
	users := lo.Map(b.conns.Clients(), func(c *websocket.Client, _ int) string { return c.Username })
	return b.ToUsersWithRetry(ctx, event, users, policy)
}

// ToUsersWithRetry delivers event to each user independently, retrying with
// linear backoff. It blocks until every recipient has succeeded or run out of
// attempts and returns the usernames that never got the frame.
func (b *Broadcaster) ToUsersWithRetry(ctx context.Context, event any, usernames []string, policy RetryPolicy) []string {
	data, ok := b.encode(event)
	if !ok {
		return usernames
	}
	attempts := max(policy.Attempts, 1)

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	for _, username := range lo.Uniq(usernames) {
		g.Go(func() error {
			if b.sendWithRetry(ctx, username, data, attempts, policy.Backoff) {
				return nil
			}
			mu.Lock()
			failed = append(failed, username)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		b.log.Warn().Strs("usernames", failed).Int("attempts", attempts).Msg("delivery gave up")
	}
	return failed
}

func (b *Broadcaster) sendWithRetry(ctx context.Context, username string, data []byte, attempts int, backoff time.Duration) bool {
	for attempt := 1; attempt <= attempts; attempt++ {
		if client, ok := b.conns.Get(username); ok {
			if b.deliver(client, data) {
				return true
			}
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
	return false
}

func (b *Broadcaster) deliver(client *websocket.Client, data []byte) bool {
	if err := client.Send(data); err != nil {
		metrics.BroadcastFailures.Inc()
		b.log.Debug().Err(err).Str("username", client.Username).Msg("frame dropped")
		return false
	}
	return true
}

func (b *Broadcaster) encode(event any) ([]byte, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to encode event")
		return nil, false
	}
	return data, true
}
