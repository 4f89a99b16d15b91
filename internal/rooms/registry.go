//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_rooms.go -package=mocks
package rooms

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/thereayou/cabal/internal/metrics"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrInvalidRoom  = errors.New("invalid room")
)

type EventType string

const (
	RoomCreated EventType = "created"
	RoomJoined  EventType = "joined"
	RoomLeft    EventType = "left"
	RoomExpired EventType = "expired"
)

// Event describes a registry mutation. Rooms and Members are snapshots taken
// while the mutation was applied, so sinks never need to call back into the
// registry.
type Event struct {
	Type     EventType
	RoomName string
	RoomType models.RoomType
	Username string
	Members  []string
	Rooms    []models.RoomSummary
}

// EventSink receives registry events synchronously, after the registry lock
// has been released.
type EventSink interface {
	HandleRoomEvent(event Event)
}

// Purger deletes the stored messages of an expired room.
type Purger interface {
	PurgeRoom(ctx context.Context, room string) error
}

// Registry owns room metadata and lifecycle. All state is guarded by one
// mutex which is never held across Purger calls or event delivery.
type Registry struct {
	rooms    map[string]*models.Room
	expiring map[string]struct{}
	ttls     map[models.RoomType]time.Duration
	purger   Purger
	sink     EventSink
	log      zerolog.Logger
	now      func() time.Time
	mu       sync.RWMutex

	interval time.Duration
	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Registry)

// WithClock overrides the time source, used by tests to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTTL sets the default TTL of a room type.
func WithTTL(typ models.RoomType, ttl time.Duration) Option {
	return func(r *Registry) { r.ttls[typ] = ttl }
}

// WithSweepInterval sets how often Start sweeps for expired rooms.
func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) { r.interval = interval }
}

func NewRegistry(purger Purger, sink EventSink, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*models.Room),
		expiring: make(map[string]struct{}),
		purger:   purger,
		sink:     sink,
		log:      log.With().Str("component", "rooms").Logger(),
		now:      time.Now,
		ttls: map[models.RoomType]time.Duration{
			models.RoomTypeCabal:    time.Hour,
			models.RoomTypeColloquy: 30 * time.Minute,
		},
		interval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom registers a new room. It returns ErrRoomExists when the name is taken.
func (r *Registry) CreateRoom(name string, typ models.RoomType, initialMembers []string) (*models.Room, error) {
	if !store.ValidKeyPart(name) {
		return nil, ErrInvalidRoom
	}
	if typ == "" {
		typ = models.RoomTypeCabal
	}
	if !typ.Valid() {
		return nil, ErrInvalidRoom
	}

	r.mu.Lock()
	_, exists := r.rooms[name]
	_, expiring := r.expiring[name]
	if exists || expiring {
		r.mu.Unlock()
		return nil, ErrRoomExists
	}
	now := r.now()
	room := &models.Room{
		Name:         name,
		Type:         typ,
		Members:      make(map[string]struct{}, len(initialMembers)),
		CreatedAt:    now,
		LastActivity: now,
		TTL:          r.ttls[typ],
	}
	for _, m := range lo.Compact(initialMembers) {
		room.Members[m] = struct{}{}
	}
	r.rooms[name] = room
	created := room.Clone()
	evt := r.eventLocked(RoomCreated, room, "")
	r.mu.Unlock()

	metrics.RoomsActive.Inc()
	r.log.Info().Str("room", name).Str("type", string(typ)).Strs("members", created.MemberList()).Msg("room created")
	r.emit(evt)
	return created, nil
}

// JoinRoom adds username to the room and refreshes its activity. Joining twice
// only touches the room again. It returns false for an unknown room.
func (r *Registry) JoinRoom(username, name string) bool {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	room.Members[username] = struct{}{}
	room.LastActivity = r.now()
	evt := r.eventLocked(RoomJoined, room, username)
	r.mu.Unlock()

	r.emit(evt)
	return true
}

// LeaveRoom removes username from the room. The room itself stays until it
// expires; once empty its TTL countdown restarts from now.
func (r *Registry) LeaveRoom(username, name string) {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, member := room.Members[username]; !member {
		r.mu.Unlock()
		return
	}
	delete(room.Members, username)
	if len(room.Members) == 0 {
		room.LastActivity = r.now()
	}
	evt := r.eventLocked(RoomLeft, room, username)
	r.mu.Unlock()

	r.emit(evt)
}

// Touch refreshes the last activity of a room.
func (r *Registry) Touch(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	room.LastActivity = r.now()
	return true
}

// Get returns a copy of the room.
func (r *Registry) Get(name string) (*models.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return nil, false
	}
	return room.Clone(), true
}

// Summaries returns every room's wire summary sorted by name.
func (r *Registry) Summaries() []models.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summariesLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep expires every room idle for at least its TTL. A room leaves the
// registry before its messages are purged, so nothing can be sent to it while
// the purge runs, and its name cannot be reused until the purge is done. A
// purge failure is logged and the room is put back for the next sweep. It
// returns the names of the rooms removed.
func (r *Registry) Sweep(ctx context.Context) []string {
	r.mu.RLock()
	now := r.now()
	var candidates []string
	for name, room := range r.rooms {
		if room.Expired(now) {
			candidates = append(candidates, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(candidates)

	var expired []string
	for _, name := range candidates {
		room, ok := r.detachExpired(name)
		if !ok {
			continue
		}

		if err := r.purger.PurgeRoom(ctx, name); err != nil {
			metrics.SweepFailures.Inc()
			r.log.Error().Err(err).Str("room", name).Msg("failed to expire room")
			r.reattach(room)
			continue
		}

		r.mu.Lock()
		delete(r.expiring, name)
		evt := r.eventLocked(RoomExpired, room, "")
		r.mu.Unlock()

		metrics.RoomsActive.Dec()
		metrics.RoomsExpired.Inc()
		r.log.Info().Str("room", name).Msg("room expired")
		expired = append(expired, name)
		r.emit(evt)
	}
	return expired
}

// detachExpired removes the room if it is still expired, reserving its name.
func (r *Registry) detachExpired(name string) (*models.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok || !room.Expired(r.now()) {
		return nil, false
	}
	delete(r.rooms, name)
	r.expiring[name] = struct{}{}
	return room, true
}

func (r *Registry) reattach(room *models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.expiring, room.Name)
	r.rooms[room.Name] = room
}

// Start runs the periodic sweep until Stop is called or ctx is done.
func (r *Registry) Start(ctx context.Context) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.log.Debug().Msg("sweeper stopped")
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}(r.done)
	r.log.Info().Dur("interval", r.interval).Msg("sweeper started")
}

// Stop cancels the sweep loop and waits for it to exit. It is safe to call
// more than once.
func (r *Registry) Stop() {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

func (r *Registry) eventLocked(typ EventType, room *models.Room, username string) Event {
	return Event{
		Type:     typ,
		RoomName: room.Name,
		RoomType: room.Type,
		Username: username,
		Members:  room.MemberList(),
		Rooms:    r.summariesLocked(),
	}
}

func (r *Registry) summariesLocked() []models.RoomSummary {
	summaries := lo.MapToSlice(r.rooms, func(_ string, room *models.Room) models.RoomSummary {
		return room.Summary()
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

func (r *Registry) emit(evt Event) {
	if r.sink != nil {
		r.sink.HandleRoomEvent(evt)
	}
}
