package client

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pearl-rdm/pearl/internal/events"
)

var baseTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func eventMsg(t *testing.T, entity events.EntityType, op events.Operation, id string, ts time.Time, origin string, fields map[string]any) wireMessage {
	t.Helper()
	payload := map[string]any{"id": id}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return wireMessage{
		Type:            events.ChangeEvent{EntityType: entity, Operation: op}.WireType(),
		Data:            data,
		Timestamp:       ts,
		OriginSessionID: origin,
	}
}

func snapshotMsg(t *testing.T, entity events.EntityType, ts time.Time, ids ...string) wireMessage {
	t.Helper()
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"id": id})
	}
	data, err := json.Marshal(items)
	require.NoError(t, err)
	return wireMessage{
		Type:      events.SnapshotType(entity),
		Data:      data,
		Timestamp: ts,
	}
}

func TestReconcileAppliesCreateAndUpdate(t *testing.T) {
	store := NewStore()

	outcome, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpCreated, "s1", baseTime, "", map[string]any{"title": "v1"}), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime.Add(time.Second), "", map[string]any{"title": "v2"}), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, ok := store.Get(events.EntityStudy, "s1")
	require.True(t, ok)
	assert.Contains(t, string(rec), "v2")
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := NewStore()

	// An update for a record the cache has never seen inserts it (upsert),
	// and applying the same event twice converges to the same state.
	msg := eventMsg(t, events.EntityReportingEffortTracker, events.OpUpdated, "t1", baseTime, "", map[string]any{"status": "done"})
	for i := 0; i < 2; i++ {
		_, err := reconcile(store, msg, "me")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Len(events.EntityReportingEffortTracker))

	// Deleting an absent record is a harmless no-op.
	del := eventMsg(t, events.EntityReportingEffortTracker, events.OpDeleted, "ghost", baseTime.Add(time.Second), "", nil)
	outcome, err := reconcile(store, del, "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, store.Len(events.EntityReportingEffortTracker))
}

func TestReconcileSuppressesOwnEvents(t *testing.T) {
	store := NewStore()

	msg := eventMsg(t, events.EntityStudy, events.OpCreated, "s1", baseTime, "session-me", map[string]any{"title": "mine"})
	outcome, err := reconcile(store, msg, "session-me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Equal(t, 0, store.Len(events.EntityStudy))

	// The same event from another session is applied.
	outcome, err = reconcile(store, msg, "session-other")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestReconcileDropsStaleEvents(t *testing.T) {
	store := NewStore()

	_, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime.Add(time.Minute), "", map[string]any{"title": "newer"}), "me")
	require.NoError(t, err)

	outcome, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime, "", map[string]any{"title": "older"}), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	rec, _ := store.Get(events.EntityStudy, "s1")
	assert.Contains(t, string(rec), "newer")
}

func TestReconcileDefersChangesForRecordsUnderEdit(t *testing.T) {
	store := NewStore()

	_, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpCreated, "s1", baseTime, "", map[string]any{"title": "v1"}), "me")
	require.NoError(t, err)

	store.MarkEditing(events.EntityStudy, "s1")

	outcome, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime.Add(time.Second), "", map[string]any{"title": "v2"}), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	// The local view is untouched while the form is open.
	rec, _ := store.Get(events.EntityStudy, "s1")
	assert.Contains(t, string(rec), "v1")

	// Ending the edit lands the deferred change.
	assert.True(t, store.ClearEditing(events.EntityStudy, "s1"))
	rec, _ = store.Get(events.EntityStudy, "s1")
	assert.Contains(t, string(rec), "v2")
}

func TestReconcileDefersDeleteForRecordUnderEdit(t *testing.T) {
	store := NewStore()

	_, err := reconcile(store, eventMsg(t, events.EntityComment, events.OpCreated, "c1", baseTime, "", nil), "me")
	require.NoError(t, err)

	store.MarkEditing(events.EntityComment, "c1")

	outcome, err := reconcile(store, eventMsg(t, events.EntityComment, events.OpDeleted, "c1", baseTime.Add(time.Second), "", nil), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	_, ok := store.Get(events.EntityComment, "c1")
	assert.True(t, ok, "record must survive until the edit ends")

	store.ClearEditing(events.EntityComment, "c1")
	_, ok = store.Get(events.EntityComment, "c1")
	assert.False(t, ok, "deferred delete must land when the edit ends")
}

func TestReconcileOnlyNewestDeferredChangeLands(t *testing.T) {
	store := NewStore()
	store.MarkEditing(events.EntityStudy, "s1")

	for i := 1; i <= 3; i++ {
		msg := eventMsg(t, events.EntityStudy, events.OpUpdated, "s1",
			baseTime.Add(time.Duration(i)*time.Second), "",
			map[string]any{"title": fmt.Sprintf("v%d", i)})
		_, err := reconcile(store, msg, "me")
		require.NoError(t, err)
	}

	// Concurrent broadcasts can arrive out of timestamp order; an older
	// change must not displace the newer parked one.
	late := eventMsg(t, events.EntityStudy, events.OpUpdated, "s1",
		baseTime.Add(2500*time.Millisecond), "", map[string]any{"title": "late"})
	outcome, err := reconcile(store, late, "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	store.ClearEditing(events.EntityStudy, "s1")
	rec, ok := store.Get(events.EntityStudy, "s1")
	require.True(t, ok)
	assert.Contains(t, string(rec), "v3")
	assert.NotContains(t, string(rec), "late")
}

func TestReconcileOutOfOrderDeleteDoesNotDisplaceNewerDeferredChange(t *testing.T) {
	store := NewStore()
	store.MarkEditing(events.EntityStudy, "s1")

	upd := eventMsg(t, events.EntityStudy, events.OpUpdated, "s1",
		baseTime.Add(2*time.Second), "", map[string]any{"title": "keep"})
	_, err := reconcile(store, upd, "me")
	require.NoError(t, err)

	del := eventMsg(t, events.EntityStudy, events.OpDeleted, "s1", baseTime.Add(time.Second), "", nil)
	outcome, err := reconcile(store, del, "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	store.ClearEditing(events.EntityStudy, "s1")
	rec, ok := store.Get(events.EntityStudy, "s1")
	require.True(t, ok, "the newer update must land, not the older delete")
	assert.Contains(t, string(rec), "keep")
}

func TestReconcileReportsStaleNotDeferredForOldEventsUnderEdit(t *testing.T) {
	store := NewStore()

	_, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime.Add(time.Minute), "", map[string]any{"title": "current"}), "me")
	require.NoError(t, err)

	store.MarkEditing(events.EntityStudy, "s1")

	// Older than lastApplied: dropped, and reported as stale even though the
	// record is under edit — nothing was parked.
	outcome, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpUpdated, "s1", baseTime, "", map[string]any{"title": "old"}), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	assert.False(t, store.ClearEditing(events.EntityStudy, "s1"))
	rec, _ := store.Get(events.EntityStudy, "s1")
	assert.Contains(t, string(rec), "current")
}

func TestReconcileSnapshotReplacesCollection(t *testing.T) {
	store := NewStore()

	// Pre-populate with a record the snapshot no longer contains.
	_, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpCreated, "gone", baseTime, "", nil), "me")
	require.NoError(t, err)

	outcome, err := reconcile(store, snapshotMsg(t, events.EntityStudy, baseTime.Add(time.Minute), "s1", "s2"), "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSnapshot, outcome)

	assert.Equal(t, 2, store.Len(events.EntityStudy))
	_, ok := store.Get(events.EntityStudy, "gone")
	assert.False(t, ok, "snapshot is authoritative; absent records are dropped")
}

func TestReconcileSnapshotPreservesRecordsUnderEdit(t *testing.T) {
	store := NewStore()

	_, err := reconcile(store, eventMsg(t, events.EntityStudy, events.OpCreated, "s1", baseTime, "", map[string]any{"title": "local"}), "me")
	require.NoError(t, err)
	store.MarkEditing(events.EntityStudy, "s1")

	_, err = reconcile(store, snapshotMsg(t, events.EntityStudy, baseTime.Add(time.Minute), "s1"), "me")
	require.NoError(t, err)

	// The edited record keeps its local state; the snapshot version is
	// parked as a deferred change.
	rec, ok := store.Get(events.EntityStudy, "s1")
	require.True(t, ok)
	assert.Contains(t, string(rec), "local")

	assert.True(t, store.ClearEditing(events.EntityStudy, "s1"))
	rec, _ = store.Get(events.EntityStudy, "s1")
	assert.NotContains(t, string(rec), "local")
}

func TestReconcileIgnoresUnknownTypes(t *testing.T) {
	store := NewStore()

	outcome, err := reconcile(store, wireMessage{Type: "connected", Data: json.RawMessage(`{"session_id":"x"}`)}, "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = reconcile(store, wireMessage{Type: "galaxy_created", Data: json.RawMessage(`{"id":"g1"}`)}, "me")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}
