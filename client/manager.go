// Package client is the Go client for the PEARL real-time API. It maintains
// a WebSocket subscription to the server, keeps a local Store of every
// tracked collection up to date, and handles:
//   - The connect handshake (reading the hello frame and adopting the
//     server-assigned session id)
//   - The full-collection snapshot that follows every connect, replacing the
//     local cache so missed events cannot leave it stale
//   - Incremental change events, reconciled in policy order: own-session
//     suppression, edit protection, staleness, then the idempotent write
//   - Automatic reconnection with exponential backoff + jitter on any
//     failure, resetting to the short delay after each successful connect
//
// There is no replay: events emitted while the client is disconnected are
// gone, and correctness is restored by the snapshot on the next connect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// dialTimeout bounds one connection attempt.
	dialTimeout = 10 * time.Second

	// readIdleTimeout is the longest the read loop waits without any frame
	// before declaring the connection dead. The server pings well inside
	// this window, so a quiet healthy connection never trips it.
	readIdleTimeout = 90 * time.Second

	// applyBufferSize is the capacity of the channel between the read loop
	// and the apply worker.
	applyBufferSize = 256
)

// State describes the manager's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "closed"
	}
}

// Config holds the parameters for a subscription.
type Config struct {
	// ServerURL is the WebSocket endpoint, e.g. "ws://localhost:8080/ws".
	ServerURL string

	// TokenFunc returns a valid access token. It is called before every
	// connection attempt so a reconnect after token expiry picks up a fresh
	// one instead of failing in a loop.
	TokenFunc func(ctx context.Context) (string, error)

	// OnApply, when set, is invoked by the apply worker after every message
	// is reconciled, with the outcome. Useful for UI invalidation hooks.
	OnApply func(msg Event)

	Logger *zap.Logger
}

// Event is what OnApply receives: the raw frame plus the reconcile outcome.
type Event struct {
	Type      string
	Outcome   Outcome
	Timestamp time.Time
}

// Manager maintains the subscription. Create with New, start with Run.
type Manager struct {
	cfg    Config
	store  *Store
	logger *zap.Logger

	// mu protects state and sessionID — both change on every reconnect.
	mu        sync.RWMutex
	state     State
	sessionID string
}

// New creates a Manager with an empty store. Call Run to start it.
func New(cfg Config) (*Manager, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("client: ServerURL is required")
	}
	if cfg.TokenFunc == nil {
		return nil, fmt.Errorf("client: TokenFunc is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		store:  NewStore(),
		logger: cfg.Logger.Named("pearl_client"),
	}, nil
}

// Store returns the local cache. It is live: the apply worker mutates it for
// as long as Run is running.
func (m *Manager) Store() *Store {
	return m.store
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the server-assigned session id of the current
// connection, or "" while disconnected. Callers put it in the X-Session-ID
// header of their own mutations so the server tags the resulting events.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// Run starts the subscription loop. It connects, consumes messages, and on
// any failure reconnects with exponential backoff. Blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	apply := make(chan wireMessage, applyBufferSize)

	// The apply worker is the only goroutine that mutates the store, so
	// reconcile order matches wire order even across reconnects.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.applyLoop(apply)
	}()

	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			break
		}

		m.setState(StateConnecting, "")

		err := m.connect(ctx, apply, bo)
		if ctx.Err() != nil {
			break
		}

		m.setState(StateDisconnected, "")

		delay := bo.Next()
		m.logger.Warn("connection lost, retrying",
			zap.Error(err),
			zap.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	m.setState(StateClosed, "")
	close(apply)
	wg.Wait()
	m.logger.Info("subscription stopped")
}

// connect establishes one session: fetch token → dial → hello → read loop.
// The backoff is reset once the hello is in hand, so an outage following a
// healthy session starts over from the short delay. Returns when the
// session ends.
func (m *Manager) connect(ctx context.Context, apply chan<- wireMessage, bo *backoff) error {
	token, err := m.cfg.TokenFunc(ctx)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}

	u, err := url.Parse(m.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parsing server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The ping handler refreshes the idle deadline; the gorilla default
	// already replies with a pong.
	resetDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	}
	if err := resetDeadline(); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		if err := resetDeadline(); err != nil {
			return err
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// --- Hello ---
	var hello wireMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Type != "connected" {
		return fmt.Errorf("expected connected frame, got %q", hello.Type)
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(hello.Data, &payload); err != nil || payload.SessionID == "" {
		return fmt.Errorf("malformed hello payload")
	}

	m.setState(StateConnected, payload.SessionID)
	bo.Reset()
	m.logger.Info("connected", zap.String("session_id", payload.SessionID))

	// --- Read loop ---
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := resetDeadline(); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		select {
		case apply <- msg:
		default:
			// The apply worker cannot keep up. Tear the session down and
			// recover via the snapshot on reconnect rather than block the
			// read loop or drop an arbitrary event.
			return fmt.Errorf("apply queue full")
		}
	}
}

// applyLoop reconciles messages into the store until the channel closes.
func (m *Manager) applyLoop(apply <-chan wireMessage) {
	for msg := range apply {
		outcome, err := reconcile(m.store, msg, m.SessionID())
		if err != nil {
			m.logger.Warn("reconcile failed",
				zap.String("type", msg.Type),
				zap.Error(err),
			)
			continue
		}
		m.logger.Debug("message reconciled",
			zap.String("type", msg.Type),
			zap.Stringer("outcome", outcome),
		)
		if m.cfg.OnApply != nil {
			m.cfg.OnApply(Event{
				Type:      msg.Type,
				Outcome:   outcome,
				Timestamp: msg.Timestamp,
			})
		}
	}
}

func (m *Manager) setState(s State, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.state = s
	m.sessionID = sessionID
}
