package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/util"
)

// Conn is one client's WebSocket connection to the relay. Frames destined
// for the client pass through a bounded send queue drained by writePump.
type Conn struct {
	id   string
	room string
	ws   *websocket.Conn
	cfg  config.Relay

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string
}

func newConn(ws *websocket.Conn, room string, cfg config.Relay) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		room: room,
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendQueueSize),
		done: make(chan struct{}),
	}
}

// short returns the id prefix used in log lines.
func (c *Conn) short() string {
	if len(c.id) > 8 {
		return c.id[:8]
	}
	return c.id
}

// closed reports whether close has been called.
func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close stops the write pump, which sends a close frame with the given code
// and text before tearing down the socket. Only the first call has effect.
func (c *Conn) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// evict closes a connection whose writer may be stuck on a full socket. The
// close frame is attempted with a short deadline and the socket is then torn
// down so both pumps exit.
func (c *Conn) evict() {
	c.close(websocket.CloseTryAgainLater, "send queue full")
	if c.ws == nil {
		return
	}
	go func() {
		writeClose(c.ws, websocket.CloseTryAgainLater, "send queue full", time.Second)
		_ = c.ws.Close()
	}()
}

// enqueue queues frame for delivery without blocking. When the queue is full
// the configured slow consumer policy applies. Returns whether the frame was
// queued.
func (c *Conn) enqueue(frame []byte) bool {
	if c.closed() {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
	}

	util.Stats.AddDropped()
	if c.cfg.SlowConsumerPolicy == config.PolicyDisconnect {
		util.LogWarning("[%s] send queue full, disconnecting slow client", c.short())
		c.evict()
	} else {
		util.LogDebug("[%s] send queue full, dropping frame", c.short())
	}
	return false
}

// readPump reads frames until the connection fails and hands each text
// frame to onFrame. It is the only reader of ws.
func (c *Conn) readPump(onFrame func(raw []byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("[%s] read error: %v", c.short(), err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			util.Stats.AddMalformed()
			util.LogWarning("[%s] dropping non-text frame", c.short())
			continue
		}
		onFrame(raw)
	}
}

// writePump drains the send queue and pings the client. It is the only
// writer of ws apart from control frames, and it closes ws on exit.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				util.LogDebug("[%s] write error: %v", c.short(), err)
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			writeClose(c.ws, c.closeCode, c.closeText, c.cfg.WriteWait)
			return
		}
	}
}

// writeClose sends a close control frame. Codes that may not appear on the
// wire (such as 1006) are skipped.
func writeClose(ws *websocket.Conn, code int, text string, wait time.Duration) {
	if code == 0 || code == websocket.CloseAbnormalClosure || code == websocket.CloseNoStatusReceived {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wait))
}
