package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	// A write that does not complete within this window marks the channel
	// broken and the connection is closed.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending
	// a ping. The connection is closed if no pong arrives in time, so
	// half-open channels cannot accumulate over the life of the process.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server pings the client.
	// Must be less than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum frame size accepted from the client.
	// Clients only send close/pong frames — a small limit is sufficient.
	maxMessageSize = 512

	// sendBufferSize is the capacity of the per-client message channel.
	// It must hold the connect hello plus one snapshot per tracked
	// collection with room to spare; a client that lets it fill up is
	// pruned by Broadcast.
	sendBufferSize = 256
)

// upgrader performs the HTTP → WebSocket protocol upgrade.
// CheckOrigin always returns true — origin validation is the responsibility
// of the reverse proxy in production deployments.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents one live browser session. Each client runs two
// goroutines: readPump (detects disconnection, handles pong frames) and
// writePump (serialises outgoing messages onto the wire).
//
// Lifecycle: created on connect, destroyed on disconnect. Nothing survives
// a reconnect — the browser gets a brand-new session id and a fresh
// snapshot baseline.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// sessionID is unique per connection attempt and is echoed back to the
	// browser in the connect hello so it can tag its own mutations.
	sessionID string

	// send is the outbound buffer. The hub queues here; writePump drains to
	// the wire. It is never closed — done signals shutdown instead, so a
	// concurrent Broadcast can never send on a closed channel.
	send chan Message

	// done is closed exactly once, by the hub, when the client is
	// unregistered. writePump exits and sends the close frame.
	done     chan struct{}
	doneOnce sync.Once

	logger *zap.Logger
}

// NewClient upgrades the HTTP connection and returns the client with the
// connect hello already queued. The caller should queue the snapshot
// messages next, then call Run.
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, sessionID string, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan Message, sendBufferSize),
		done:      make(chan struct{}),
		logger: logger.With(
			zap.String("session_id", sessionID),
			zap.String("remote_addr", r.RemoteAddr),
		),
	}

	c.send <- Message{
		Type:      MsgTypeConnected,
		Data:      connectedPayload{SessionID: sessionID},
		Timestamp: time.Now().UTC(),
	}
	return c, nil
}

// SessionID returns the session id assigned to this connection.
func (c *Client) SessionID() string {
	return c.sessionID
}

// QueueSnapshot places a baseline message into the send buffer. Must only be
// called between NewClient and Run, before the pumps start, so snapshots are
// guaranteed to precede every incremental event.
func (c *Client) QueueSnapshot(msg Message) {
	select {
	case c.send <- msg:
	default:
		// Buffer sized for the full baseline; overflowing it here means a
		// collection count bug, not a slow client.
		c.logger.Error("ws: snapshot dropped, send buffer full at connect")
	}
}

// Run registers the client with the hub and starts the read and write pumps.
// It blocks until the connection closes; cleanup and hub unregistration
// happen internally.
func (c *Client) Run() {
	c.hub.Subscribe(c)

	// writePump gets its own goroutine because it blocks on the send channel
	// and wire writes. readPump runs on the caller's goroutine.
	go c.writePump()
	c.readPump()
}

// shutdown signals both pumps to exit. Called only by the hub while holding
// its registry lock; safe to call more than once.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump reads incoming frames. Its job is to detect disconnection and
// reset the read deadline on every pong — actual application messages from
// the client are not expected, the protocol is server-push only.
//
// When the loop exits the client is unregistered from the hub, so the hub's
// view of live channels never lags a real disconnect by more than one
// register-loop turn.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("ws: failed to set read deadline", zap.Error(err))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards messages from the send channel to the wire and sends
// periodic pings so readPump can detect stale connections.
//
// writePump is the only goroutine that writes to conn — gorilla/websocket
// connections are not safe for concurrent writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("ws: write error", zap.Error(err))
				return
			}

		case <-c.done:
			// Unregistered by the hub — drain nothing, say goodbye.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ws: ping error", zap.Error(err))
				return
			}
		}
	}
}
