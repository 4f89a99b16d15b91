package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/rooms"
	"github.com/thereayou/cabal/internal/store"
	"github.com/thereayou/cabal/internal/websocket"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	hub         *websocket.Hub
	registry    *rooms.Registry
	messages    *store.MessageStore
	broadcaster *Broadcaster
	cfg         ChatConfig
	chat        *ChatService
	clock       *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithKV(t, func(kv store.KV) store.KV { return kv })
}

// newHarnessWithKV lets a test wrap the durable store the messages go to.
func newHarnessWithKV(t *testing.T, wrap func(store.KV) store.KV) *harness {
	t.Helper()
	log := zerolog.Nop()
	clock := &testClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	retry := RetryPolicy{Attempts: 2, Backoff: time.Millisecond}

	hub := websocket.NewHub(log)
	broadcaster := NewBroadcaster(hub, log)
	notifier := NewNotifier(broadcaster, retry, log)

	kv, err := store.OpenBadger("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	messages := store.NewMessageStore(wrap(kv), notifier, log, store.WithWriteRetry(2, time.Millisecond))
	registry := rooms.NewRegistry(messages, notifier, log,
		rooms.WithClock(clock.Now),
		rooms.WithTTL(models.RoomTypeCabal, time.Hour),
	)
	cfg := ChatConfig{
		DefaultRoom:      "general",
		HistoryLimit:     50,
		MaxMessageLength: 32,
		Retry:            retry,
	}
	chat := NewChatService(hub, registry, messages, broadcaster, cfg, log)
	chat.Seed([]string{"general"})

	return &harness{
		hub:         hub,
		registry:    registry,
		messages:    messages,
		broadcaster: broadcaster,
		cfg:         cfg,
		chat:        chat,
		clock:       clock,
	}
}

func (h *harness) isMember(username, room string) bool {
	r, ok := h.registry.Get(room)
	if !ok {
		return false
	}
	_, member := r.Members[username]
	return member
}

func (h *harness) connect(t *testing.T, username string) *websocket.Client {
	t.Helper()
	client := websocket.NewClient(nil, username, "https://avatars.example/"+username, "", 128, zerolog.Nop())
	require.NoError(t, h.chat.Connect(context.Background(), client))
	return client
}

func (h *harness) send(t *testing.T, client *websocket.Client, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	h.chat.HandleFrame(context.Background(), client, raw)
}

type outFrame struct {
	Event string `json:"event"`
	raw   []byte
}

// drain empties the client's send queue.
func drain(client *websocket.Client) []outFrame {
	var frames []outFrame
	for {
		select {
		case data := <-client.Outbound():
			var f outFrame
			_ = json.Unmarshal(data, &f)
			f.raw = data
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func pick[T any](t *testing.T, frames []outFrame, event string) []T {
	t.Helper()
	var out []T
	for _, f := range frames {
		if f.Event != event {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(f.raw, &v))
		out = append(out, v)
	}
	return out
}

func errorsOf(t *testing.T, frames []outFrame) []string {
	var out []string
	for _, e := range pick[ErrorFrame](t, frames, EventError) {
		out = append(out, e.Message)
	}
	return out
}

func TestChat_ConnectJoinsDefaultRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")
	req.Equal("general", alice.CurrentRoom())
	req.True(h.isMember("alice", "general"))

	frames := drain(alice)
	users := pick[UsersFrame](t, frames, EventUpdateUsers)
	req.Len(users, 1)
	req.Equal([]string{"alice"}, users[0].Users)

	roomLists := pick[RoomsFrame](t, frames, EventUpdateRooms)
	req.NotEmpty(roomLists)
	req.Equal("general", roomLists[len(roomLists)-1].Rooms[0].Name)

	history := pick[RoomHistoryFrame](t, frames, EventRoomHistory)
	req.Len(history, 1)
	req.Equal("general", history[0].RoomName)
	req.Empty(history[0].Messages)
}

func TestChat_DuplicateUsernameIsRefused(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	first := h.connect(t, "alice")

	second := websocket.NewClient(nil, "alice", "", "", 8, zerolog.Nop())
	req.ErrorIs(h.chat.Connect(context.Background(), second), websocket.ErrDuplicateUsername)

	got, ok := h.hub.Get("alice")
	req.True(ok)
	req.Same(first, got)
	req.Empty(drain(second))
}

func TestChat_DefaultRoomIsRecreatedAfterExpiry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	h.clock.Advance(2 * time.Hour)
	req.Equal([]string{"general"}, h.registry.Sweep(context.Background()))

	h.connect(t, "alice")
	req.True(h.isMember("alice", "general"))
}

func TestChat_MessageReachesRoomAndDisconnectUpdatesPresence(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	drain(alice)
	drain(bob)

	h.send(t, alice, map[string]any{"event": EventSendMessage, "roomName": "general", "message": "hi"})

	received := pick[MessageFrame](t, drain(bob), EventNewMessage)
	req.Len(received, 1)
	req.Equal("hi", received[0].Message.Content)
	req.Equal("alice", received[0].Message.Username)
	req.Equal("https://avatars.example/alice", received[0].Message.AvatarURL)
	req.NotEmpty(received[0].Message.ID)
	req.Len(pick[MessageFrame](t, drain(alice), EventNewMessage), 1)

	h.chat.HandleClose(context.Background(), alice)
	req.False(h.isMember("alice", "general"))

	presence := pick[UsersFrame](t, drain(bob), EventUpdateUsers)
	req.NotEmpty(presence)
	req.Equal([]string{"bob"}, presence[len(presence)-1].Users)

	// A second close is a no-op.
	h.chat.HandleClose(context.Background(), alice)
	req.Empty(pick[UsersFrame](t, drain(bob), EventUpdateUsers))
}

func TestChat_CreateJoinSendEdit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	h.send(t, alice, map[string]any{
		"event":          EventCreateRoom,
		"roomName":       "games",
		"roomType":       "cabal",
		"initialMembers": []string{"alice"},
	})
	room, ok := h.registry.Get("games")
	req.True(ok)
	req.Equal([]string{"alice"}, room.MemberList())

	h.send(t, alice, map[string]any{"event": EventJoinRoom, "roomName": "games"})
	req.Equal("games", alice.CurrentRoom())
	frames := drain(alice)
	history := pick[RoomHistoryFrame](t, frames, EventRoomHistory)
	req.Equal("games", history[len(history)-1].RoomName)
	members := pick[RoomMembersFrame](t, frames, EventUpdateRoomMembers)
	req.Equal(RoomMembersFrame{Event: EventUpdateRoomMembers, RoomName: "games", Members: []string{"alice"}}, members[len(members)-1])
	drain(bob)

	h.send(t, alice, map[string]any{"event": EventSendMessage, "roomName": "games", "message": "gg"})
	created := pick[MessageFrame](t, drain(alice), EventNewMessage)
	req.Len(created, 1)
	id := created[0].Message.ID

	h.send(t, alice, map[string]any{"event": EventEditMessage, "messageId": id, "newContent": "updated text"})
	edited := pick[MessageFrame](t, drain(alice), EventMessageEdited)
	req.Len(edited, 1)
	req.Equal("updated text", edited[0].Message.Content)

	// bob is still viewing general.
	req.Empty(pick[MessageFrame](t, drain(bob), EventNewMessage))

	msgs, err := h.messages.History(ctx, "games", 50)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(id, msgs[0].ID)
	req.Equal("updated text", msgs[0].Content)
	req.NotNil(msgs[0].Edited)

	h.send(t, alice, map[string]any{"event": EventDeleteMessage, "messageId": id})
	deleted := pick[MessageDeletedFrame](t, drain(alice), EventMessageDeleted)
	req.Equal([]MessageDeletedFrame{{Event: EventMessageDeleted, MessageID: id, RoomName: "games"}}, deleted)

	msgs, err = h.messages.History(ctx, "games", 50)
	req.NoError(err)
	req.Len(msgs, 1)
	req.True(msgs[0].Deleted)
}

func TestChat_IdleRoomExpires(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	h.send(t, alice, map[string]any{"event": EventCreateRoom, "roomName": "temp"})
	drain(alice)
	drain(bob)

	h.clock.Advance(time.Hour)
	req.True(h.registry.Touch("general"))
	req.Equal([]string{"temp"}, h.registry.Sweep(context.Background()))

	for _, client := range []*websocket.Client{alice, bob} {
		frames := drain(client)
		expired := pick[ExpiredFrame](t, frames, EventExpired)
		req.Equal([]ExpiredFrame{{Event: EventExpired, RoomName: "temp"}}, expired)

		lists := pick[RoomsFrame](t, frames, EventUpdateRooms)
		req.NotEmpty(lists)
		for _, summary := range lists[len(lists)-1].Rooms {
			req.NotEqual("temp", summary.Name)
		}
	}

	msgs, err := h.messages.History(context.Background(), "temp", 10)
	req.NoError(err)
	req.Empty(msgs)
}

func TestChat_FailuresOnlyReachTheSender(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	h.send(t, bob, map[string]any{"event": EventSendMessage, "roomName": "general", "message": "mine"})
	created := pick[MessageFrame](t, drain(bob), EventNewMessage)
	require.Len(t, created, 1)
	bobsMessage := created[0].Message.ID
	drain(alice)
	drain(bob)

	cases := []struct {
		name  string
		frame any
		want  string
	}{
		{"bad json", "{not json", "Invalid message format"},
		{"no event", map[string]any{"roomName": "general"}, "Invalid message format"},
		{"unknown event", map[string]any{"event": "dance"}, "Unknown event: dance"},
		{"missing field", map[string]any{"event": EventSendMessage, "roomName": "general"}, "Invalid message format"},
		{"too long", map[string]any{"event": EventSendMessage, "roomName": "general", "message": string(make([]byte, 33))}, "Message too long"},
		{"unknown room", map[string]any{"event": EventSendMessage, "roomName": "void", "message": "hello?"}, "Room not found"},
		{"edit missing", map[string]any{"event": EventEditMessage, "messageId": "nope", "newContent": "x"}, "Message not found"},
		{"edit foreign", map[string]any{"event": EventEditMessage, "messageId": bobsMessage, "newContent": "x"}, "Not authorized"},
		{"delete foreign", map[string]any{"event": EventDeleteMessage, "messageId": bobsMessage}, "Not authorized"},
		{"join missing", map[string]any{"event": EventJoinRoom, "roomName": "void"}, "Room not found"},
		{"leave missing", map[string]any{"event": EventLeaveRoom, "roomName": "void"}, "Room not found"},
		{"create existing", map[string]any{"event": EventCreateRoom, "roomName": "general"}, "Room already exists"},
		{"create bad type", map[string]any{"event": EventCreateRoom, "roomName": "x", "roomType": "secret"}, "Invalid message format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var raw []byte
			if s, ok := tc.frame.(string); ok {
				raw = []byte(s)
			} else {
				var err error
				raw, err = json.Marshal(tc.frame)
				require.NoError(t, err)
			}
			h.chat.HandleFrame(context.Background(), alice, raw)

			require.Equal(t, []string{tc.want}, errorsOf(t, drain(alice)))
			require.Empty(t, drain(bob))
		})
	}

	require.Equal(t, "general", alice.CurrentRoom())
	msg, err := h.messages.Get(context.Background(), bobsMessage)
	require.NoError(t, err)
	require.Equal(t, "mine", msg.Content)
	require.False(t, msg.Deleted)
}

func TestChat_LeaveRoomKeepsCurrentRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect(t, "alice")

	h.send(t, alice, map[string]any{"event": EventLeaveRoom, "roomName": "general"})
	req.False(h.isMember("alice", "general"))
	req.Equal("general", alice.CurrentRoom())

	members := pick[RoomMembersFrame](t, drain(alice), EventUpdateRoomMembers)
	req.Equal([]string{}, members[len(members)-1].Members)
	_, ok := h.registry.Get("general")
	req.True(ok)
}

// sweepingRepository runs an expiry sweep right before a message is written.
type sweepingRepository struct {
	MessageRepository
	beforeStore func()
}

func (r *sweepingRepository) Store(ctx context.Context, msg models.Message) error {
	r.beforeStore()
	return r.MessageRepository.Store(ctx, msg)
}

func TestChat_MessageRacingExpiryIsNotKept(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	repo := &sweepingRepository{MessageRepository: h.messages, beforeStore: func() {
		h.clock.Advance(2 * time.Hour)
		h.registry.Sweep(ctx)
	}}
	h.chat = NewChatService(h.hub, h.registry, repo, h.broadcaster, h.cfg, zerolog.Nop())

	alice := h.connect(t, "alice")
	_, err := h.registry.CreateRoom("temp", models.RoomTypeCabal, nil)
	req.NoError(err)
	drain(alice)

	h.send(t, alice, map[string]any{"event": EventSendMessage, "roomName": "temp", "message": "last words"})
	req.Equal([]string{"Room not found"}, errorsOf(t, drain(alice)))

	_, ok := h.registry.Get("temp")
	req.False(ok)
	msgs, err := h.messages.History(ctx, "temp", 10)
	req.NoError(err)
	req.Empty(msgs)

	_, err = h.registry.CreateRoom("temp", models.RoomTypeCabal, nil)
	req.NoError(err)
	msgs, err = h.messages.History(ctx, "temp", 10)
	req.NoError(err)
	req.Empty(msgs)
}

// brokenKV fails every write once failing is set. Reads keep working.
type brokenKV struct {
	store.KV
	failing atomic.Bool
}

func (k *brokenKV) Set(ctx context.Context, entries ...store.Entry) error {
	if k.failing.Load() {
		return errors.New("disk full")
	}
	return k.KV.Set(ctx, entries...)
}

func TestChat_StoreFailureOnlyReachesTheSender(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	kv := &brokenKV{}
	h := newHarnessWithKV(t, func(inner store.KV) store.KV {
		kv.KV = inner
		return kv
	})
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	h.send(t, alice, map[string]any{"event": EventSendMessage, "roomName": "general", "message": "before"})
	created := pick[MessageFrame](t, drain(alice), EventNewMessage)
	req.Len(created, 1)
	id := created[0].Message.ID
	drain(bob)

	kv.failing.Store(true)

	h.send(t, alice, map[string]any{"event": EventSendMessage, "roomName": "general", "message": "lost"})
	h.send(t, alice, map[string]any{"event": EventEditMessage, "messageId": id, "newContent": "changed"})
	h.send(t, alice, map[string]any{"event": EventDeleteMessage, "messageId": id})

	frames := drain(alice)
	req.Equal([]string{"Failed to send message", "Failed to edit message", "Failed to delete message"}, errorsOf(t, frames))
	req.Empty(pick[MessageFrame](t, frames, EventNewMessage))
	req.Empty(pick[MessageFrame](t, frames, EventMessageEdited))
	req.Empty(drain(bob))

	msgs, err := h.messages.History(ctx, "general", 10)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("before", msgs[0].Content)
	req.False(msgs[0].Deleted)
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

type recordingHub struct {
	*websocket.Hub
	rec *callRecorder
}

func (h recordingHub) Unregister(client *websocket.Client) bool {
	h.rec.record("unregister " + client.Username)
	return h.Hub.Unregister(client)
}

type recordingRooms struct {
	*rooms.Registry
	rec *callRecorder
}

func (r recordingRooms) LeaveRoom(username, name string) {
	r.rec.record("leave " + username + " " + name)
	r.Registry.LeaveRoom(username, name)
}

func TestChat_CloseLeavesRoomBeforeReleasingUsername(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	rec := &callRecorder{}
	h.chat = NewChatService(recordingHub{h.hub, rec}, recordingRooms{h.registry, rec}, h.messages, h.broadcaster, h.cfg, zerolog.Nop())

	alice := h.connect(t, "alice")
	stale := websocket.NewClient(nil, "alice", "", "general", 8, zerolog.Nop())

	// A connection that never owned the username changes nothing.
	h.chat.HandleClose(context.Background(), stale)
	req.Empty(rec.calls)
	req.True(h.isMember("alice", "general"))

	h.chat.HandleClose(context.Background(), alice)
	req.Equal([]string{"leave alice general", "unregister alice"}, rec.calls)

	again := h.connect(t, "alice")
	got, ok := h.hub.Get("alice")
	req.True(ok)
	req.Same(again, got)
	req.True(h.isMember("alice", "general"))
}
