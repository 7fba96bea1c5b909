package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/events"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// scriptedServer runs a WebSocket endpoint that, per connection, sends the
// hello, the given frames, and then executes after (e.g. closing the
// connection to force a reconnect).
type scriptedServer struct {
	t         *testing.T
	sessionID string
	frames    []map[string]any
	conns     atomic.Int32
	after     func(conn *websocket.Conn)
}

func (s *scriptedServer) handler(w http.ResponseWriter, r *http.Request) {
	require.NotEmpty(s.t, r.URL.Query().Get("token"), "client must send its token")

	conn, err := testUpgrader.Upgrade(w, r, nil)
	require.NoError(s.t, err)
	s.conns.Add(1)

	hello := map[string]any{
		"type":      "connected",
		"data":      map[string]string{"session_id": s.sessionID},
		"timestamp": time.Now().UTC(),
	}
	require.NoError(s.t, conn.WriteJSON(hello))

	for _, frame := range s.frames {
		require.NoError(s.t, conn.WriteJSON(frame))
	}

	if s.after != nil {
		s.after(conn)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func staticToken(context.Context) (string, error) {
	return "test-token", nil
}

func startManager(t *testing.T, srv *httptest.Server, applied chan Event) (*Manager, context.CancelFunc) {
	t.Helper()
	mgr, err := New(Config{
		ServerURL: wsURL(srv),
		TokenFunc: staticToken,
		OnApply: func(e Event) {
			select {
			case applied <- e:
			default:
			}
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	return mgr, cancel
}

func waitForOutcome(t *testing.T, applied chan Event, want Outcome) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-applied:
			if e.Outcome == want {
				return
			}
		case <-deadline:
			t.Fatalf("outcome %v never arrived", want)
		}
	}
}

func TestManagerAppliesSnapshotThenIncrementalEvents(t *testing.T) {
	now := time.Now().UTC()
	server := &scriptedServer{
		t:         t,
		sessionID: "srv-session",
		frames: []map[string]any{
			{
				"type":      "studies_update",
				"data":      []map[string]string{{"id": "s1"}},
				"timestamp": now,
			},
			{
				"type":      "study_created",
				"data":      map[string]string{"id": "s2"},
				"timestamp": now.Add(time.Second),
			},
		},
		after: func(conn *websocket.Conn) {
			// Hold the connection open so the session stays up.
			time.Sleep(2 * time.Second)
			conn.Close()
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()

	applied := make(chan Event, 16)
	mgr, cancel := startManager(t, srv, applied)
	defer cancel()

	waitForOutcome(t, applied, OutcomeSnapshot)
	waitForOutcome(t, applied, OutcomeApplied)

	assert.Equal(t, 2, mgr.Store().Len(events.EntityStudy))
	assert.Equal(t, "srv-session", mgr.SessionID())
	assert.Equal(t, StateConnected, mgr.State())
}

func TestManagerSuppressesEchoOfOwnMutations(t *testing.T) {
	now := time.Now().UTC()
	server := &scriptedServer{
		t:         t,
		sessionID: "srv-session",
		frames: []map[string]any{
			{
				"type":              "study_created",
				"data":              map[string]string{"id": "mine"},
				"timestamp":         now,
				"origin_session_id": "srv-session",
			},
			{
				"type":              "study_created",
				"data":              map[string]string{"id": "theirs"},
				"timestamp":         now.Add(time.Second),
				"origin_session_id": "someone-else",
			},
		},
		after: func(conn *websocket.Conn) {
			time.Sleep(2 * time.Second)
			conn.Close()
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()

	applied := make(chan Event, 16)
	mgr, cancel := startManager(t, srv, applied)
	defer cancel()

	waitForOutcome(t, applied, OutcomeSuppressed)
	waitForOutcome(t, applied, OutcomeApplied)

	_, ok := mgr.Store().Get(events.EntityStudy, "mine")
	assert.False(t, ok, "own echo must not be applied")
	_, ok = mgr.Store().Get(events.EntityStudy, "theirs")
	assert.True(t, ok)
}

func TestManagerReconnectsAndResnapshotsAfterDrop(t *testing.T) {
	now := time.Now().UTC()
	server := &scriptedServer{
		t:         t,
		sessionID: "srv-session",
		frames: []map[string]any{
			{
				"type":      "studies_update",
				"data":      []map[string]string{{"id": "s1"}},
				"timestamp": now,
			},
		},
		after: func(conn *websocket.Conn) {
			// Drop the connection immediately; the client must come back.
			conn.Close()
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()

	applied := make(chan Event, 64)
	mgr, cancel := startManager(t, srv, applied)
	defer cancel()

	require.Eventually(t, func() bool {
		return server.conns.Load() >= 2
	}, 10*time.Second, 20*time.Millisecond, "client never reconnected")

	waitForOutcome(t, applied, OutcomeSnapshot)
	assert.Equal(t, 1, mgr.Store().Len(events.EntityStudy))
}

func TestManagerRequiresConfig(t *testing.T) {
	_, err := New(Config{TokenFunc: staticToken})
	assert.Error(t, err)

	_, err = New(Config{ServerURL: "ws://localhost/ws"})
	assert.Error(t, err)
}

func TestWireMessageRoundTrip(t *testing.T) {
	raw := `{"type":"study_updated","data":{"id":"s1","title":"x"},"timestamp":"2026-08-24T10:15:00Z","origin_session_id":"abc"}`
	var msg wireMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "study_updated", msg.Type)
	assert.Equal(t, "abc", msg.OriginSessionID)
	assert.False(t, msg.Timestamp.IsZero())
}
