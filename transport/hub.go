package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wintlu/stereo-play/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Client wraps one websocket connection. It satisfies model.Conn so
// the session package can address it without importing gorilla.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient wraps conn with the send buffer used by WritePump.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{ID: id, Conn: conn, Send: make(chan []byte, 64)}
}

// Enqueue implements model.Conn: enqueue payload for the write pump,
// dropping it (never blocking the caller) if the buffer is full —
// broadcasts are best-effort per §4.6. Named Enqueue rather than Send
// because Send is already the outbound channel field.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case c.Send <- payload:
		return nil
	default:
		return nil // buffer full, drop silently: best-effort fan-out
	}
}

func (c *Client) Close() error {
	return c.Conn.Close()
}

// Middleware sees every raw inbound message before it is decoded and
// dispatched, and every outbound envelope as it is written. This
// is the "transport middleware hook" called for by the "monkey-patched
// message logging" design note (§9): production code can plug in a
// debug tee without the dispatcher knowing about it.
type Middleware interface {
	OnReceive(clientID string, raw []byte)
	OnSend(clientID string, raw []byte)
}

// noopMiddleware is installed when none is configured.
type noopMiddleware struct{}

func (noopMiddleware) OnReceive(string, []byte) {}
func (noopMiddleware) OnSend(string, []byte)    {}

// Handler processes one decoded envelope from a client.
type Handler func(ctx context.Context, clientID string, env Envelope)

// ReadPump runs the serial per-connection read loop (§4.6: "the
// dispatcher reads messages serially per connection"). It returns when
// the connection closes or ctx is cancelled, at which point onClose is
// invoked so the caller can detach the client from its session.
func (c *Client) ReadPump(ctx context.Context, mw Middleware, handler Handler, onClose func()) {
	if mw == nil {
		mw = noopMiddleware{}
	}
	defer func() {
		onClose()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err), logger.String("client", c.ID))
			}
			return
		}
		mw.OnReceive(c.ID, raw)

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn("invalid message envelope", logger.ErrorField(err), logger.String("client", c.ID))
			continue
		}
		handler(ctx, c.ID, env)
	}
}

// WritePump drains Send onto the connection, coalescing any messages
// queued while a write is in flight into the same frame, and sends
// periodic pings to detect dead peers.
func (c *Client) WritePump(mw Middleware) {
	if mw == nil {
		mw = noopMiddleware{}
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			mw.OnSend(c.ID, message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				extra := <-c.Send
				w.Write(extra)
				mw.OnSend(c.ID, extra)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
