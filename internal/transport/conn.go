// Package transport implements the bidirectional message channel
// on top of gorilla/websocket, and the room-based fan-out router
// that sits on top of it. The pattern — a per-connection send channel
// drained by a dedicated write pump, with a read pump feeding parsed
// messages to a dispatcher — is a standard Client/Hub split, generalized
// from one hub per game to one process-wide Router serving every session.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// sendBufferSize bounds how many outbound messages may queue for a slow
// receiver before the connection is dropped, mirroring a typical
// buffered Client.send channel.
const sendBufferSize = 16

// PongWait is the idle window ConfigureKeepalive enforces: a connection
// that neither sends a frame nor answers a ping within this long is
// considered dead. PingPeriod is how often WritePump proactively pings to
// keep that window from expiring on a quiet-but-alive connection.
const (
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10
)

// Upgrader is shared across every connection; CheckOrigin enforces the
// configured CLIENT_URL instead of allowing all origins.
func NewUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}

// Inbound is the envelope every client message arrives as:
// `{ event, data, ack? }`. ack, when present, is echoed back on the reply so
// the caller can correlate request/response.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   string          `json:"ack,omitempty"`
}

// Outbound is the parallel shape used for replies and broadcasts.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Ack   string `json:"ack,omitempty"`
}

// Conn is one live connection's identity plus its outbound queue. Sessions
// hold only Conn.ID, a weak reference — never the *Conn itself. The Router's
// room sets hold *Conn handles until Unregister removes them.
type Conn struct {
	ID   string
	ws   *websocket.Conn
	send chan Outbound
}

func NewConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{ID: id, ws: ws, send: make(chan Outbound, sendBufferSize)}
}

// RawSend exposes the outbound queue for tests that simulate a connection
// without a real socket; production code never reads from it directly.
func (c *Conn) RawSend() <-chan Outbound {
	return c.send
}

// Enqueue attempts a non-blocking send; a full queue means the receiver is
// stalled, and the caller (the Router) is expected to drop the connection
// rather than block other recipients on it.
func (c *Conn) Enqueue(msg Outbound) (dropped bool) {
	select {
	case c.send <- msg:
		return false
	default:
		return true
	}
}

// WritePump drains the outbound queue onto the socket. It owns c.send's
// lifetime: the Router closes c.send exactly once, from within the same
// lock that removes the connection from every room, and WritePump exits
// when that channel is drained and closed. Between messages it pings on
// PingPeriod so a quiet connection doesn't trip ConfigureKeepalive's read
// deadline on the other end.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes inbound frames and invokes handle for each. It returns
// (and the caller should unregister the connection) once the socket errors
// or closes.
func (c *Conn) ReadPump(handle func(Inbound)) {
	for {
		var msg Inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		handle(msg)
	}
}

// ConfigureKeepalive arms a read deadline and a pong handler that refreshes
// it, standard gorilla/websocket keep-alive practice. A trivia lobby can
// sit idle for a while waiting for teams to join, so idle connections need
// active detection rather than lingering open forever.
func (c *Conn) ConfigureKeepalive(pongWait time.Duration) {
	if pongWait <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}
