// Package recorder defines the record-role contracts: per-aggregate,
// whole-application and process recorders, each a strict superset of the
// previous.
package recorder

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/getpup/recordstore/es"
)

var (
	// ErrConcurrencyConflict indicates a version conflict during append:
	// some version in the batch already exists for the stream, or the
	// batch does not extend the stream's current head. Non-fatal; the
	// caller re-reads the stream, recomputes versions and retries.
	ErrConcurrencyConflict = errors.New("optimistic concurrency conflict")

	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")
)

// AggregateRecorder persists one aggregate's event sequence, keyed by
// (originator id, originator version), enforcing uniqueness and gapless
// ordering. For bounded contexts that never need cross-stream ordering.
type AggregateRecorder interface {
	// InsertEvents atomically appends a batch of events to one stream
	// within the provided transaction. The batch must share one
	// originator and carry contiguous ascending versions; on an empty
	// stream any non-negative first version is accepted, otherwise the
	// batch must start at head + 1.
	//
	// Returns ErrConcurrencyConflict if any version already exists for
	// the stream (detected up front against the stream head and as a
	// safety net via the unique constraint). Conflicting events are
	// never renumbered. Returns ErrNoEvents for an empty batch.
	// Either the whole batch commits or none of it does.
	InsertEvents(ctx context.Context, tx es.DBTX, events []es.StoredEvent) (es.AppendResult, error)

	// SelectEvents reads a stream's events ordered by version,
	// ascending unless es.WithDesc is given. es.WithGt / es.WithLte
	// bound the version range, es.WithLimit caps the result. An unknown
	// stream yields an empty slice and no error: it is "no history
	// yet", not a failure.
	//
	// Returns es.ErrIntegrityViolation if the returned sequence has a
	// gap or duplicate, which indicates backend corruption.
	SelectEvents(ctx context.Context, tx es.DBTX, originatorID uuid.UUID, opts ...es.SelectOption) ([]es.StoredEvent, error)
}

// ApplicationRecorder additionally exposes the union of all streams as
// one monotonically increasing, globally ordered notification sequence.
// Events appended through it receive dense global ids assigned
// atomically with respect to concurrent appends.
type ApplicationRecorder interface {
	AggregateRecorder

	// SelectNotifications returns notifications with id >= start, in
	// ascending id order, truncated to limit. es.WithStop sets an
	// inclusive upper bound; es.WithTopics filters by topic.
	SelectNotifications(ctx context.Context, tx es.DBTX, start int64, limit int, opts ...es.NotificationOption) ([]es.Notification, error)

	// MaxNotificationID returns the highest assigned notification id,
	// or 0 if none has been assigned yet.
	MaxNotificationID(ctx context.Context, tx es.DBTX) (int64, error)
}

// ProcessRecorder additionally owns consumer tracking cursors, enabling
// resumable at-least-once delivery and, combined with the caller's
// transaction, exactly-once effects for process managers.
type ProcessRecorder interface {
	ApplicationRecorder

	// MaxTrackingID returns the highest notification id the named
	// application has recorded as processed, or 0 if none.
	MaxTrackingID(ctx context.Context, tx es.DBTX, applicationName string) (int64, error)

	// InsertTracking upserts an application's tracking cursor. The
	// upsert is monotonic: a call with a lower id than the stored one
	// is a no-op, the cursor never moves backward.
	InsertTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking) error

	// InsertEventsWithTracking records a tracking cursor and appends
	// the process's own output events inside the same transaction, so
	// that acknowledging consumed work and emitting its effects commit
	// or fail as one unit.
	InsertEventsWithTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking, events []es.StoredEvent) (es.AppendResult, error)
}
