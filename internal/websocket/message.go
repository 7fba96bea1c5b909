// Package websocket implements the real-time broadcast hub that pushes
// entity change events to connected browser sessions. It uses
// gorilla/websocket under the hood and is consumed by the REST handlers
// through the events.Broadcaster interface.
//
// Delivery model: at-most-once, best-effort fan-out. There is no buffering
// or replay — a session that is not connected at broadcast time permanently
// misses that event and recovers via the full snapshot it receives on its
// next connect. Fan-out is in-memory and therefore single-process; running
// multiple server processes requires an external pub/sub bridge, which this
// package deliberately does not provide.
package websocket

import (
	"time"

	"github.com/pearl-rdm/pearl/internal/events"
)

// MsgTypeConnected is the first message every client receives after the
// upgrade. Its payload carries the session id assigned to the connection so
// the client can suppress echoes of its own mutations.
const MsgTypeConnected = "connected"

// Message is the envelope for every frame sent to clients.
//
// Incremental event:
//
//	{"type":"study_updated","data":{"id":"...","title":"..."},"timestamp":"2026-08-24T10:15:00Z","origin_session_id":"..."}
//
// Snapshot (sent once per collection right after connect):
//
//	{"type":"studies_update","data":[ ... full collection ... ],"timestamp":"..."}
type Message struct {
	// Type routes the payload on the client: "<entity>_<operation>" for
	// incremental events, "<plural>_update" for snapshots, or "connected".
	Type string `json:"type"`

	// Data is the post-mutation record, an id-only object for deletes, or a
	// full collection for snapshots.
	Data any `json:"data"`

	// Timestamp is assigned by the hub and is monotonically non-decreasing
	// per hub instance. Serialized as RFC 3339.
	Timestamp time.Time `json:"timestamp"`

	// OriginSessionID is the session that caused the mutation, if any.
	OriginSessionID string `json:"origin_session_id,omitempty"`
}

// connectedPayload is the Data of a MsgTypeConnected message.
type connectedPayload struct {
	SessionID string `json:"session_id"`
}

// eventMessage converts a ChangeEvent into its wire envelope.
// The timestamp must already be stamped by the hub.
func eventMessage(e events.ChangeEvent) Message {
	return Message{
		Type:            e.WireType(),
		Data:            e.Payload,
		Timestamp:       e.Timestamp,
		OriginSessionID: e.OriginSessionID,
	}
}

// SnapshotMessage builds a full-collection snapshot message for the given
// entity type. The API layer calls this when assembling the post-connect
// baseline.
func SnapshotMessage(t events.EntityType, collection any) Message {
	return Message{
		Type:      events.SnapshotType(t),
		Data:      collection,
		Timestamp: time.Now().UTC(),
	}
}
