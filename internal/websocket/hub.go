package websocket

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/thereayou/cabal/internal/metrics"
)

const shutdownReason = "Server shutting down"

// Hub is the registry of live connections keyed by username. It sends no
// notifications of its own.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Register adds client. It fails with ErrDuplicateUsername while another
// connection holds the same username.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.Username]; ok {
		metrics.ConnectionsRejected.Inc()
		return ErrDuplicateUsername
	}
	h.clients[client.Username] = client
	metrics.ConnectionsActive.Inc()
	h.log.Info().Str("username", client.Username).Int("online", len(h.clients)).Msg("client registered")
	return nil
}

// Unregister removes client if it is still the registered connection for its
// username. It reports whether anything was removed.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.clients[client.Username]
	if !ok || current != client {
		return false
	}
	delete(h.clients, client.Username)
	metrics.ConnectionsActive.Dec()
	h.log.Info().Str("username", client.Username).Int("online", len(h.clients)).Msg("client unregistered")
	return true
}

func (h *Hub) Get(username string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[username]
	return c, ok
}

// Clients returns a snapshot of the live connections ordered by username.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	clients := lo.Values(h.clients)
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].Username < clients[j].Username })
	return clients
}

// Usernames returns the sorted usernames of the live connections.
func (h *Hub) Usernames() []string {
	h.mu.RLock()
	names := lo.Keys(h.clients)
	h.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connection with a normal closure and empties the hub.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.CloseWithReason(websocket.CloseNormalClosure, shutdownReason)
		metrics.ConnectionsActive.Dec()
	}
	h.log.Info().Int("closed", len(clients)).Msg("hub stopped")
}
