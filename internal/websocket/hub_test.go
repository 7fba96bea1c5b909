package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/metrics"
)

// newTestHub returns a running hub and its cancel func.
func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(metrics.New(prometheus.NewRegistry()), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

// newTestClient builds a client without a real connection — hub tests
// exercise registration and fan-out purely at the channel level.
func newTestClient(hub *Hub, sessionID string, buffer int) *Client {
	return &Client{
		hub:       hub,
		sessionID: sessionID,
		send:      make(chan Message, buffer),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == want
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastFansOutToAllClients(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	a := newTestClient(hub, "session-a", 8)
	b := newTestClient(hub, "session-b", 8)
	hub.Subscribe(a)
	hub.Subscribe(b)
	waitForCount(t, hub, 2)

	hub.Broadcast(events.ChangeEvent{
		EntityType: events.EntityStudy,
		Operation:  events.OpCreated,
		EntityID:   "id-1",
		Payload:    map[string]string{"id": "id-1"},
	})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Equal(t, "study_created", msg.Type)
			assert.False(t, msg.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive the event", c.sessionID)
		}
	}
}

func TestBroadcastCarriesOriginSession(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	c := newTestClient(hub, "session-a", 8)
	hub.Subscribe(c)
	waitForCount(t, hub, 1)

	hub.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityComment,
		Operation:       events.OpDeleted,
		EntityID:        "id-9",
		Payload:         map[string]string{"id": "id-9"},
		OriginSessionID: "session-a",
	})

	msg := <-c.send
	assert.Equal(t, "comment_deleted", msg.Type)
	assert.Equal(t, "session-a", msg.OriginSessionID)
}

func TestSlowClientIsPrunedWithoutStallingOthers(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	hub.Subscribe(slow)
	hub.Subscribe(fast)
	waitForCount(t, hub, 2)

	// First event fills the slow client's buffer; the second overflows it
	// and must prune the slow client while still reaching the fast one.
	for i := 0; i < 2; i++ {
		hub.Broadcast(events.ChangeEvent{
			EntityType: events.EntityReportingEffortTracker,
			Operation:  events.OpUpdated,
			EntityID:   "id-1",
			Payload:    map[string]string{"id": "id-1"},
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case <-fast.send:
		case <-time.After(time.Second):
			t.Fatal("fast client missed an event")
		}
	}

	waitForCount(t, hub, 1)

	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("pruned client was not shut down")
	}
}

func TestDuplicateSessionReplacesOldClient(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	first := newTestClient(hub, "session-a", 8)
	hub.Subscribe(first)
	waitForCount(t, hub, 1)

	second := newTestClient(hub, "session-a", 8)
	hub.Subscribe(second)

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("stale client was not shut down")
	}
	assert.Equal(t, 1, hub.ConnectedCount())

	// The replacement, not the stale client, receives subsequent events.
	hub.Broadcast(events.ChangeEvent{
		EntityType: events.EntityStudy,
		Operation:  events.OpUpdated,
		EntityID:   "id-1",
		Payload:    map[string]string{"id": "id-1"},
	})
	select {
	case msg := <-second.send:
		assert.Equal(t, "study_updated", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("replacement client did not receive the event")
	}
}

func TestUnsubscribeIgnoresReplacedClient(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	first := newTestClient(hub, "session-a", 8)
	hub.Subscribe(first)
	waitForCount(t, hub, 1)

	second := newTestClient(hub, "session-a", 8)
	hub.Subscribe(second)
	<-first.done

	// The stale client's late unsubscribe must not evict its replacement.
	hub.Unsubscribe(first)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, hub.ConnectedCount())
}

func TestBroadcastTimestampsAreNonDecreasing(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	c := newTestClient(hub, "session-a", 32)
	hub.Subscribe(c)
	waitForCount(t, hub, 1)

	const n = 20
	for i := 0; i < n; i++ {
		hub.Broadcast(events.ChangeEvent{
			EntityType: events.EntityTextElement,
			Operation:  events.OpUpdated,
			EntityID:   "id-1",
			Payload:    map[string]string{"id": "id-1"},
		})
	}

	var prev time.Time
	for i := 0; i < n; i++ {
		msg := <-c.send
		require.False(t, msg.Timestamp.Before(prev), "timestamp went backwards at event %d", i)
		prev = msg.Timestamp
	}
}

func TestShutdownDisconnectsAllClients(t *testing.T) {
	hub, cancel := newTestHub(t)

	a := newTestClient(hub, "session-a", 8)
	b := newTestClient(hub, "session-b", 8)
	hub.Subscribe(a)
	hub.Subscribe(b)
	waitForCount(t, hub, 2)

	cancel()

	for _, c := range []*Client{a, b} {
		select {
		case <-c.done:
		case <-time.After(time.Second):
			t.Fatalf("client %s was not shut down", c.sessionID)
		}
	}

	// Subscribe and Broadcast after shutdown must not block or panic.
	hub.Subscribe(newTestClient(hub, "late", 1))
	hub.Broadcast(events.ChangeEvent{
		EntityType: events.EntityStudy,
		Operation:  events.OpCreated,
		EntityID:   "id-2",
		Payload:    map[string]string{"id": "id-2"},
	})
}
