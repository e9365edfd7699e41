package es

import (
	"github.com/google/uuid"
)

// StoredEvent is one immutable entry in an originator's event stream.
// StoredEvents are value objects; they gain no further identity when
// persisted beyond their (OriginatorID, OriginatorVersion) key.
type StoredEvent struct {
	// OriginatorID identifies the stream this event belongs to.
	OriginatorID uuid.UUID

	// OriginatorVersion is the event's position within its stream.
	// Versions within a stream are unique, strictly increasing and
	// gapless; the caller computes them against the stream's tail.
	OriginatorVersion int64

	// Topic identifies the event's type for routing and deserialization.
	Topic string

	// State contains the serialized event payload.
	// Stored as a blob - any serialization format works.
	State []byte
}

// Notification is a stored event exposed with a global ordinal for
// cross-stream consumption. The ID is assigned at commit time, reflects
// total insertion order across all streams, and is never reused.
type Notification struct {
	// ID is the global notification ordinal, starting at 1.
	ID int64

	OriginatorID      uuid.UUID
	OriginatorVersion int64
	Topic             string
	State             []byte
}

// Tracking is a consumer's durable bookmark into the notification
// sequence: the highest notification id the named application has fully
// processed.
type Tracking struct {
	// ApplicationName identifies the downstream consumer.
	ApplicationName string

	// NotificationID is the last notification id fully processed.
	NotificationID int64
}

// AppendResult reports what a successful append committed.
type AppendResult struct {
	// CommittedVersions are the originator versions of the appended
	// events, in batch order.
	CommittedVersions []int64

	// NotificationIDs are the global ids assigned to the appended
	// events, in batch order. Empty for aggregate-only recorders,
	// which do not participate in the notification log.
	NotificationIDs []int64
}
