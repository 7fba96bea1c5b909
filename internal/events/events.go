// Package events defines the typed change events emitted by CRUD handlers
// after every committed mutation. The WebSocket hub fans these events out to
// all connected browser sessions so their views stay in sync without polling.
//
// EntityType and Operation are closed enums rather than free-form strings —
// adding a new tracked resource means adding a constant here (and a snapshot
// collection in the API layer), which the compiler can check at every switch.
package events

import "time"

// EntityType identifies the kind of resource a ChangeEvent refers to.
type EntityType string

const (
	EntityStudy   EntityType = "study"
	EntityPackage EntityType = "package"
	// EntityPackageItem is a single deliverable inside a package
	// (dataset, define file, reviewer guide, ...).
	EntityPackageItem            EntityType = "package_item"
	EntityReportingEffortTracker EntityType = "reporting_effort_tracker"
	EntityUser                   EntityType = "user"
	EntityTextElement            EntityType = "text_element"
	EntityComment                EntityType = "comment"
)

// AllEntityTypes lists every tracked entity type in snapshot order.
// The WebSocket handler iterates this when building the post-connect baseline.
var AllEntityTypes = []EntityType{
	EntityStudy,
	EntityPackage,
	EntityPackageItem,
	EntityReportingEffortTracker,
	EntityUser,
	EntityTextElement,
	EntityComment,
}

// Plural returns the collection name used in snapshot message types,
// e.g. "studies_update". Irregular plurals are handled explicitly.
func (t EntityType) Plural() string {
	switch t {
	case EntityStudy:
		return "studies"
	default:
		return string(t) + "s"
	}
}

// Operation is the kind of mutation a ChangeEvent describes.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// ChangeEvent is the unit of broadcast: one committed mutation on one record.
//
// Timestamp is assigned by the hub at broadcast time and is monotonically
// non-decreasing per hub instance — events for the same (EntityType, EntityID)
// observed by any single client arrive in non-decreasing timestamp order.
// No ordering is guaranteed across process restarts.
type ChangeEvent struct {
	EntityType EntityType
	Operation  Operation

	// EntityID is the identifier of the affected record, also present in
	// Payload for created/updated events.
	EntityID string

	// Payload is the post-mutation representation of the record. For deleted
	// events it carries only the id so clients can remove the cache entry.
	Payload any

	// OriginSessionID identifies the WebSocket session of the client that
	// caused the mutation (from the X-Session-ID request header). Receiving
	// clients use it to suppress the echo of their own optimistic updates.
	// Empty when the mutation came from outside a browser session (seed,
	// maintenance, API scripts).
	OriginSessionID string

	// Timestamp is set by the hub; any value provided by the emitter is
	// overwritten.
	Timestamp time.Time
}

// WireType returns the message type string sent to clients,
// e.g. "study_created", "comment_deleted".
func (e ChangeEvent) WireType() string {
	return string(e.EntityType) + "_" + string(e.Operation)
}

// SnapshotType returns the message type string for a full-collection snapshot
// of the given entity type, e.g. "studies_update".
func SnapshotType(t EntityType) string {
	return t.Plural() + "_update"
}

// Broadcaster is the narrow interface CRUD handlers use to publish a change.
// Implementations must be fire-and-forget: a broadcast failure is never
// surfaced to the mutation caller. Handlers must only broadcast after the
// database commit succeeded, never before.
type Broadcaster interface {
	Broadcast(e ChangeEvent)
}

// NopBroadcaster discards every event. Used by the seed command and in
// handler tests that do not care about fan-out.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(ChangeEvent) {}
