package models

import "time"

// Message is a chat message. It is never hard deleted; Deleted hides the content
// on the client side while id and ordering stay stable.
type Message struct {
	ID        string `json:"id"`
	RoomName  string `json:"roomName"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Edited    *int64 `json:"edited,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// CreatedAt returns the creation time of the message.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// IsEdited reports whether the message was edited at least once.
func (m Message) IsEdited() bool {
	return m.Edited != nil
}

// Millis converts t to the unix millisecond representation used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
