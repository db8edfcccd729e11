package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/util"
)

const clientWriteWait = 10 * time.Second

// Client is one peer's connection to the relay. Send is safe for concurrent
// use; Receive must be called from a single goroutine.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// RoomURL returns relayURL with the room query parameter set. An empty room
// leaves the URL untouched, which puts the client in the relay's default room.
func RoomURL(relayURL, room string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", relayURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the relay at the given WebSocket URL.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Send writes a signaling message, guarded by a mutex.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.conn.WriteJSON(msg)
}

// Receive reads messages until the connection fails and hands each well-formed
// one to fn. Malformed messages are logged and skipped. The returned error is
// nil when the relay closed the connection normally.
func (c *Client) Receive(fn func(Message)) error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read from relay: %w", err)
		}

		msg, err := Parse(raw)
		if err != nil {
			util.LogWarning("dropping message from relay: %v", err)
			continue
		}
		fn(msg)
	}
}

// Close sends a close frame and releases the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
