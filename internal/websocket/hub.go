package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/metrics"
)

// Hub is the process-wide registry of connected client sessions and the
// single fan-out point for change events. It implements events.Broadcaster.
//
// # Design: single-writer event loop
//
// All mutations to the session registry (register, unregister) are serialised
// through one goroutine — the Run loop — via channels. Broadcast is the one
// exception: it holds a read-lock only long enough to copy the current client
// list, then sends outside the lock so a slow client channel never blocks the
// event loop or delivery to other clients.
//
// # Duplicate connects
//
// Registering a second client with an already-registered session id replaces
// the first and shuts the stale one down. This guards against duplicate
// connect races where the browser reconnects before the server noticed the
// old transport die.
type Hub struct {
	// sessions maps session id to the live client for that session.
	sessions map[string]*Client

	// mu protects sessions during Broadcast, which reads it from outside the
	// Run goroutine. The register/unregister channels serialise all writes
	// inside Run.
	mu sync.RWMutex

	// lastStamp is the timestamp assigned to the most recent broadcast.
	// Guarded by stampMu; used to keep event timestamps monotonically
	// non-decreasing even if the wall clock steps backwards.
	stampMu   sync.Mutex
	lastStamp time.Time

	register   chan *Client
	unregister chan *Client

	// stopped is closed when Run exits; no messages are delivered after.
	stopped chan struct{}

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
		metrics:    m,
		logger:     logger.Named("ws_hub"),
	}
}

// Run starts the hub's event loop. It must be called exactly once, in its
// own goroutine, and exits when ctx is cancelled (server graceful shutdown).
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.sessions[client.sessionID]; ok && old != client {
				// Duplicate connect for the same session — the newer
				// transport wins, the stale one is shut down.
				old.shutdown()
				h.logger.Info("ws: replaced duplicate session",
					zap.String("session_id", client.sessionID),
				)
			}
			h.sessions[client.sessionID] = client
			h.metrics.ConnectedClients.Set(float64(len(h.sessions)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			// Only remove if this exact client is still registered — a
			// replacement may already occupy the session id.
			if cur, ok := h.sessions[client.sessionID]; ok && cur == client {
				delete(h.sessions, client.sessionID)
				client.shutdown()
			}
			h.metrics.ConnectedClients.Set(float64(len(h.sessions)))
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, client := range h.sessions {
				client.shutdown()
			}
			h.sessions = make(map[string]*Client)
			h.metrics.ConnectedClients.Set(0)
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast stamps the event and queues it to every connected session.
// It is safe to call from any goroutine and never returns an error — a
// client whose send buffer is full is pruned so it cannot stall delivery to
// the remaining clients, and the mutation that triggered the event is never
// affected. Implements events.Broadcaster.
func (h *Hub) Broadcast(e events.ChangeEvent) {
	e.Timestamp = h.stamp()
	msg := eventMessage(e)

	h.metrics.EventsBroadcast.
		WithLabelValues(string(e.EntityType), string(e.Operation)).
		Inc()

	// Copy the client list before releasing the lock so a client that
	// unregisters mid-broadcast cannot corrupt the iteration.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
			h.metrics.MessagesDelivered.Inc()
		case <-c.done:
			// Client already shut down between the copy and the send.
		default:
			// Send buffer full — the client is too slow to keep up.
			// Disconnect it; it will re-snapshot on reconnect.
			h.metrics.SlowClientsPruned.Inc()
			h.logger.Warn("ws: pruning slow client",
				zap.String("session_id", c.sessionID),
				zap.String("event", msg.Type),
			)
			h.Unsubscribe(c)
		}
	}
}

// Subscribe registers client with the hub. Called by the upgrade handler
// after the post-connect snapshot has been queued, so the client observes
// the baseline before any incremental event.
func (h *Hub) Subscribe(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
	}
}

// Unsubscribe removes client from the hub. No-op if the client is not (or no
// longer) registered — disconnects may race with cleanup.
func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// ConnectedCount returns the current number of connected sessions.
// Intended for health endpoints and tests.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// stamp returns the broadcast timestamp for the next event, clamped so the
// sequence is non-decreasing per hub instance.
func (h *Hub) stamp() time.Time {
	h.stampMu.Lock()
	defer h.stampMu.Unlock()

	now := time.Now().UTC()
	if now.Before(h.lastStamp) {
		now = h.lastStamp
	}
	h.lastStamp = now
	return now
}
