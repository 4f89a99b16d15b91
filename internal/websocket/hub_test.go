package websocket

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(username string) *Client {
	return NewClient(nil, username, "", "general", 4, zerolog.Nop())
}

func TestHub_RegisterRejectsDuplicates(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())

	first := newTestClient("alice")
	req.NoError(hub.Register(first))
	req.ErrorIs(hub.Register(newTestClient("alice")), ErrDuplicateUsername)

	got, ok := hub.Get("alice")
	req.True(ok)
	req.Same(first, got)
	req.Equal(1, hub.Len())
}

func TestHub_StaleUnregisterKeepsNewerClient(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())

	old := newTestClient("alice")
	req.NoError(hub.Register(old))
	req.True(hub.Unregister(old))
	req.False(hub.Unregister(old))

	fresh := newTestClient("alice")
	req.NoError(hub.Register(fresh))
	req.False(hub.Unregister(old))

	got, ok := hub.Get("alice")
	req.True(ok)
	req.Same(fresh, got)
}

func TestHub_SnapshotsAreSorted(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	for _, name := range []string{"carol", "alice", "bob"} {
		req.NoError(hub.Register(newTestClient(name)))
	}

	req.Equal([]string{"alice", "bob", "carol"}, hub.Usernames())
	clients := hub.Clients()
	req.Len(clients, 3)
	req.Equal("alice", clients[0].Username)
	req.Equal("carol", clients[2].Username)
}

func TestHub_ConcurrentRegisterHasOneWinner(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if hub.Register(newTestClient("alice")) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestHub_StopClosesClients(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	alice := newTestClient("alice")
	req.NoError(hub.Register(alice))

	hub.Stop()
	req.True(alice.Closed())
	req.Equal(0, hub.Len())
	req.ErrorIs(alice.Send([]byte("late")), ErrClientClosed)
	req.False(hub.Unregister(alice))
}

func TestClient_SendQueue(t *testing.T) {
	req := require.New(t)
	c := NewClient(nil, "alice", "", "general", 1, zerolog.Nop())

	req.NoError(c.Send([]byte("one")))
	req.ErrorIs(c.Send([]byte("two")), ErrClientQueueFull)
	req.Equal([]byte("one"), <-c.Outbound())

	c.SetCurrentRoom("games")
	req.Equal("games", c.CurrentRoom())

	c.Close()
	c.Close()
	req.ErrorIs(c.Send([]byte("three")), ErrClientClosed)
}
