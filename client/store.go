package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pearl-rdm/pearl/internal/events"
)

// Store is the client-side cache of every tracked collection, keyed by
// entity type and record id. Records are held as raw JSON — the store does
// not interpret fields beyond the id, so it works for every entity type
// without per-type code.
//
// The store also tracks which records the local user is currently editing.
// Incoming changes for a record under edit are deferred rather than applied,
// so a half-finished form is never overwritten underneath the user; the
// deferred change lands when the edit ends.
type Store struct {
	mu sync.RWMutex

	collections map[events.EntityType]map[string]json.RawMessage

	// lastApplied records the event timestamp of the newest change applied
	// per record, used to drop stale out-of-order events after reconnects.
	lastApplied map[events.EntityType]map[string]time.Time

	// editing marks records the local user has open in a form.
	editing map[events.EntityType]map[string]bool

	// pending holds the newest deferred change per record under edit.
	pending map[events.EntityType]map[string]pendingChange
}

// pendingChange is a change withheld while the record was being edited.
// Only the newest one is kept — intermediate states are irrelevant once the
// edit ends.
type pendingChange struct {
	deleted   bool
	record    json.RawMessage
	timestamp time.Time
}

// NewStore creates an empty store covering every tracked entity type.
func NewStore() *Store {
	s := &Store{
		collections: make(map[events.EntityType]map[string]json.RawMessage),
		lastApplied: make(map[events.EntityType]map[string]time.Time),
		editing:     make(map[events.EntityType]map[string]bool),
		pending:     make(map[events.EntityType]map[string]pendingChange),
	}
	for _, t := range events.AllEntityTypes {
		s.collections[t] = make(map[string]json.RawMessage)
		s.lastApplied[t] = make(map[string]time.Time)
		s.editing[t] = make(map[string]bool)
		s.pending[t] = make(map[string]pendingChange)
	}
	return s
}

// Get returns the cached record, if present.
func (s *Store) Get(t events.EntityType, id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[t][id]
	return rec, ok
}

// Len returns the number of cached records for the entity type.
func (s *Store) Len(t events.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[t])
}

// All returns a copy of the collection for the entity type.
func (s *Store) All(t events.EntityType) map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.collections[t]))
	for id, rec := range s.collections[t] {
		out[id] = rec
	}
	return out
}

// MarkEditing flags a record as open in a local form. Incoming changes for
// it will be deferred until ClearEditing.
func (s *Store) MarkEditing(t events.EntityType, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing[t][id] = true
}

// ClearEditing ends the local edit and applies the newest deferred change,
// if one arrived meanwhile. Returns true when a deferred change was applied.
func (s *Store) ClearEditing(t events.EntityType, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.editing[t], id)

	p, ok := s.pending[t][id]
	if !ok {
		return false
	}
	delete(s.pending[t], id)

	if p.deleted {
		delete(s.collections[t], id)
	} else {
		s.collections[t][id] = p.record
	}
	s.lastApplied[t][id] = p.timestamp
	return true
}

// IsEditing reports whether the record is currently marked as under edit.
func (s *Store) IsEditing(t events.EntityType, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editing[t][id]
}

// applyResult says what upsert/remove did with a change.
type applyResult int

const (
	resultApplied applyResult = iota
	resultDeferred
	resultStale
)

// deferChange parks a change for a record under edit. Caller holds s.mu.
// Delivery order and timestamp order can differ, so an already-parked change
// newer than the incoming one wins; the incoming change is stale.
func (s *Store) deferChange(t events.EntityType, id string, p pendingChange) applyResult {
	if cur, ok := s.pending[t][id]; ok && p.timestamp.Before(cur.timestamp) {
		return resultStale
	}
	s.pending[t][id] = p
	return resultDeferred
}

// upsert applies a create/update. The change is dropped when stale (older
// than the newest change already applied) and parked when the record is
// under edit.
func (s *Store) upsert(t events.EntityType, id string, record json.RawMessage, ts time.Time) applyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.Before(s.lastApplied[t][id]) {
		return resultStale
	}

	if s.editing[t][id] {
		return s.deferChange(t, id, pendingChange{record: record, timestamp: ts})
	}

	s.collections[t][id] = record
	s.lastApplied[t][id] = ts
	return resultApplied
}

// remove applies a delete. Same stale and edit-deferral rules as upsert.
// Removing an absent record is a no-op, not an error — deletes are
// idempotent so replays after reconnect are harmless.
func (s *Store) remove(t events.EntityType, id string, ts time.Time) applyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.Before(s.lastApplied[t][id]) {
		return resultStale
	}

	if s.editing[t][id] {
		return s.deferChange(t, id, pendingChange{deleted: true, timestamp: ts})
	}

	delete(s.collections[t], id)
	s.lastApplied[t][id] = ts
	return resultApplied
}

// replaceAll swaps in a full snapshot for one entity type. Records under
// edit keep their local state; the snapshot version is parked as a deferred
// change instead. All other cache entries, including ones absent from the
// snapshot, are dropped — the snapshot is authoritative.
func (s *Store) replaceAll(t events.EntityType, records map[string]json.RawMessage, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]json.RawMessage, len(records))
	freshApplied := make(map[string]time.Time, len(records))

	for id, rec := range records {
		if s.editing[t][id] {
			s.deferChange(t, id, pendingChange{record: rec, timestamp: ts})
			if cur, ok := s.collections[t][id]; ok {
				fresh[id] = cur
				freshApplied[id] = s.lastApplied[t][id]
			}
			continue
		}
		fresh[id] = rec
		freshApplied[id] = ts
	}

	// A record under edit that vanished from the snapshot was deleted on the
	// server; park the deletion.
	for id := range s.editing[t] {
		if _, inSnapshot := records[id]; inSnapshot {
			continue
		}
		if cur, ok := s.collections[t][id]; ok {
			s.deferChange(t, id, pendingChange{deleted: true, timestamp: ts})
			fresh[id] = cur
			freshApplied[id] = s.lastApplied[t][id]
		}
	}

	s.collections[t] = fresh
	s.lastApplied[t] = freshApplied
}
