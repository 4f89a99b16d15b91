package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Pings are sent with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 512 * 1024 // 512KB

	DefaultSendBuffer = 256
)

// FrameHandler processes what a connection reads. HandleFrame is called
// sequentially for one client; HandleClose exactly once when the read loop ends.
type FrameHandler interface {
	HandleFrame(ctx context.Context, client *Client, raw []byte)
	HandleClose(ctx context.Context, client *Client)
}

// Client is one live connection, identified by its username.
type Client struct {
	Username  string
	AvatarURL string

	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu          sync.RWMutex
	currentRoom string
	closed      bool
	closeCode   int
	closeText   string
}

// NewClient wraps conn. conn may be nil for a client that is never pumped.
func NewClient(conn *websocket.Conn, username, avatarURL, room string, buffer int, log zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		Username:    username,
		AvatarURL:   avatarURL,
		conn:        conn,
		send:        make(chan []byte, buffer),
		log:         log.With().Str("username", username).Logger(),
		currentRoom: room,
		closeCode:   websocket.CloseNormalClosure,
	}
}

func (c *Client) CurrentRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentRoom
}

func (c *Client) SetCurrentRoom(room string) {
	c.mu.Lock()
	c.currentRoom = room
	c.mu.Unlock()
}

// Send queues one encoded frame without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientQueueFull
	}
}

// Outbound exposes the send queue. WritePump is its only consumer on a live
// connection.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason stops accepting frames. Frames already queued are still
// written, followed by a close frame carrying code and reason.
func (c *Client) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = reason
	close(c.send)
}

// ReadPump reads frames until the peer goes away or the connection is closed.
func (c *Client) ReadPump(ctx context.Context, handler FrameHandler) {
	defer func() {
		handler.HandleClose(ctx, c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		handler.HandleFrame(ctx, c, data)
	}
}

// WritePump drains the send queue onto the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				code, text := c.closeCode, c.closeText
				c.mu.RUnlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reject sends a close frame on a connection that never became a client.
func Reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}
