package models

import (
	"sort"
	"time"
)

// RoomType is either a public cabal or a private colloquy.
type RoomType string

const (
	RoomTypeCabal    RoomType = "cabal"
	RoomTypeColloquy RoomType = "colloquy"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomTypeCabal || t == RoomTypeColloquy
}

type Room struct {
	Name         string
	Type         RoomType
	Members      map[string]struct{}
	CreatedAt    time.Time
	LastActivity time.Time
	TTL          time.Duration
}

// Expired reports whether the room has been idle for at least its TTL.
func (r *Room) Expired(now time.Time) bool {
	return now.Sub(r.LastActivity) >= r.TTL
}

// MemberList returns the member usernames sorted.
func (r *Room) MemberList() []string {
	members := make([]string, 0, len(r.Members))
	for m := range r.Members {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// Clone returns a deep copy safe to hand out of the registry.
func (r *Room) Clone() *Room {
	c := *r
	c.Members = make(map[string]struct{}, len(r.Members))
	for m := range r.Members {
		c.Members[m] = struct{}{}
	}
	return &c
}

// Summary projects the room to its wire form.
func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		Name:         r.Name,
		Type:         r.Type,
		LastActivity: Millis(r.LastActivity),
		TTL:          r.TTL.Milliseconds(),
		MemberCount:  len(r.Members),
	}
}

// RoomSummary is what update-rooms carries for each room.
type RoomSummary struct {
	Name         string   `json:"name"`
	Type         RoomType `json:"type"`
	LastActivity int64    `json:"lastActivity"`
	TTL          int64    `json:"ttl"`
	MemberCount  int      `json:"memberCount"`
}
