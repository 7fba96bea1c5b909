package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pearl-rdm/pearl/internal/events"
)

// wireMessage mirrors the server's frame envelope.
type wireMessage struct {
	Type            string          `json:"type"`
	Data            json.RawMessage `json:"data"`
	Timestamp       time.Time       `json:"timestamp"`
	OriginSessionID string          `json:"origin_session_id"`
}

// Outcome describes what the reconciler did with one incoming message.
type Outcome int

const (
	// OutcomeApplied means the change was written to the store.
	OutcomeApplied Outcome = iota

	// OutcomeSuppressed means the event originated from this client's own
	// session and was dropped — the local optimistic update already covers it.
	OutcomeSuppressed

	// OutcomeDeferred means the record is under local edit; the change was
	// parked and will land when the edit ends.
	OutcomeDeferred

	// OutcomeStale means the event was older than the newest change already
	// applied to the record and was dropped.
	OutcomeStale

	// OutcomeSnapshot means a full-collection baseline replaced the cache.
	OutcomeSnapshot

	// OutcomeIgnored means the message type is not one the reconciler
	// handles (e.g. the connect hello, or a type from a newer server).
	OutcomeIgnored
)

// String implements fmt.Stringer for log output.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeStale:
		return "stale"
	case OutcomeSnapshot:
		return "snapshot"
	default:
		return "ignored"
	}
}

// wire type lookup tables, built once from the entity type list.
var (
	incrementalTypes = func() map[string]struct {
		entity events.EntityType
		op     events.Operation
	} {
		m := make(map[string]struct {
			entity events.EntityType
			op     events.Operation
		})
		for _, t := range events.AllEntityTypes {
			for _, op := range []events.Operation{events.OpCreated, events.OpUpdated, events.OpDeleted} {
				e := events.ChangeEvent{EntityType: t, Operation: op}
				m[e.WireType()] = struct {
					entity events.EntityType
					op     events.Operation
				}{t, op}
			}
		}
		return m
	}()

	snapshotTypes = func() map[string]events.EntityType {
		m := make(map[string]events.EntityType, len(events.AllEntityTypes))
		for _, t := range events.AllEntityTypes {
			m[events.SnapshotType(t)] = t
		}
		return m
	}()
)

// reconcile applies one incoming message to the store, in policy order:
// origin suppression first, then edit protection, then staleness, then the
// idempotent write. ownSession is the session id the server assigned on
// connect.
func reconcile(store *Store, msg wireMessage, ownSession string) (Outcome, error) {
	if t, ok := snapshotTypes[msg.Type]; ok {
		records, err := indexSnapshot(msg.Data)
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("client: snapshot %s: %w", msg.Type, err)
		}
		store.replaceAll(t, records, msg.Timestamp)
		return OutcomeSnapshot, nil
	}

	inc, ok := incrementalTypes[msg.Type]
	if !ok {
		return OutcomeIgnored, nil
	}

	if ownSession != "" && msg.OriginSessionID == ownSession {
		return OutcomeSuppressed, nil
	}

	id, err := extractID(msg.Data)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("client: event %s: %w", msg.Type, err)
	}

	var result applyResult
	if inc.op == events.OpDeleted {
		result = store.remove(inc.entity, id, msg.Timestamp)
	} else {
		result = store.upsert(inc.entity, id, msg.Data, msg.Timestamp)
	}

	switch result {
	case resultDeferred:
		return OutcomeDeferred, nil
	case resultStale:
		return OutcomeStale, nil
	default:
		return OutcomeApplied, nil
	}
}

// extractID pulls the record id out of an event payload.
func extractID(data json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("payload has no id")
	}
	return probe.ID, nil
}

// indexSnapshot converts a snapshot array into an id-keyed map.
func indexSnapshot(data json.RawMessage) (map[string]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}

	records := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		id, err := extractID(item)
		if err != nil {
			return nil, err
		}
		records[id] = item
	}
	return records, nil
}
