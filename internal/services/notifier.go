package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/rooms"
	"github.com/thereayou/cabal/internal/store"
)

// Notifier turns room and message events into broadcasts. It only uses the
// snapshots carried by the events.
type Notifier struct {
	broadcaster *Broadcaster
	retry       RetryPolicy
	log         zerolog.Logger
}

func NewNotifier(broadcaster *Broadcaster, retry RetryPolicy, log zerolog.Logger) *Notifier {
	return &Notifier{
		broadcaster: broadcaster,
		retry:       retry,
		log:         log.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) HandleRoomEvent(evt rooms.Event) {
	switch evt.Type {
	case rooms.RoomCreated:
		n.broadcaster.RoomList(evt.Rooms)
	case rooms.RoomJoined, rooms.RoomLeft:
		n.broadcaster.RoomMembers(evt.RoomName, evt.Members)
		n.broadcaster.RoomList(evt.Rooms)
	case rooms.RoomExpired:
		failed := n.broadcaster.ToAllWithRetry(context.Background(), ExpiredFrame{Event: EventExpired, RoomName: evt.RoomName}, n.retry)
		if len(failed) > 0 {
			n.log.Warn().Str("room", evt.RoomName).Int("missed", len(failed)).Msg("expiry notice not delivered to everyone")
		}
		n.broadcaster.RoomList(evt.Rooms)
	default:
		n.log.Warn().Str("type", string(evt.Type)).Msg("unhandled room event")
	}
}

func (n *Notifier) HandleMessageEvent(evt store.MessageEvent) {
	msg := evt.Message
	switch evt.Type {
	case store.MessageCreated:
		n.broadcaster.ToRoom(msg.RoomName, MessageFrame{Event: EventNewMessage, Message: msg})
	case store.MessageEdited:
		n.broadcaster.ToRoom(msg.RoomName, MessageFrame{Event: EventMessageEdited, Message: msg})
	case store.MessageDeleted:
		n.broadcaster.ToRoom(msg.RoomName, MessageDeletedFrame{Event: EventMessageDeleted, MessageID: msg.ID, RoomName: msg.RoomName})
	default:
		n.log.Warn().Str("type", string(evt.Type)).Msg("unhandled message event")
	}
}
