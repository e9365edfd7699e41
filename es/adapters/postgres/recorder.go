// Package postgres provides PostgreSQL-backed recorders.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/getpup/recordstore/es"
	"github.com/getpup/recordstore/es/recorder"
)

// StoreConfig contains configuration for the Postgres recorders.
// Configuration is immutable after construction.
type StoreConfig struct {
	// EventsTable is the name of the stored events table
	EventsTable string

	// StreamHeadsTable is the name of the per-stream head version table
	StreamHeadsTable string

	// SequenceTable is the name of the single-row notification counter table
	SequenceTable string

	// TrackingTable is the name of the consumer tracking cursor table
	TrackingTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:      "stored_events",
		StreamHeadsTable: "stream_heads",
		SequenceTable:    "notification_sequence",
		TrackingTable:    "tracking",
	}
}

// StoreOption is a functional option for configuring a StoreConfig.
type StoreOption func(*StoreConfig)

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithStreamHeadsTable sets a custom stream heads table name.
func WithStreamHeadsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.StreamHeadsTable = tableName
	}
}

// WithSequenceTable sets a custom notification sequence table name.
func WithSequenceTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.SequenceTable = tableName
	}
}

// WithTrackingTable sets a custom tracking table name.
func WithTrackingTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.TrackingTable = tableName
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// AggregateRecorder is a PostgreSQL-backed per-aggregate recorder.
// It persists stream events without assigning notification ids; use it
// for purposes that never need cross-stream ordering (for example a
// snapshots table via WithEventsTable).
type AggregateRecorder struct {
	config StoreConfig
}

// NewAggregateRecorder creates a new Postgres aggregate recorder.
func NewAggregateRecorder(config StoreConfig) *AggregateRecorder {
	return &AggregateRecorder{config: config}
}

// InsertEvents implements recorder.AggregateRecorder.
// The stream_heads table gives an O(1) head lookup; the primary key on
// (originator_id, originator_version) remains the safety net that
// detects a writer committing between the head check and the insert.
func (a *AggregateRecorder) InsertEvents(ctx context.Context, tx es.DBTX, events []es.StoredEvent) (es.AppendResult, error) {
	if err := a.prepareAppend(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, topic, state)
		VALUES ($1, $2, $3, $4)
	`, a.config.EventsTable)

	versions := make([]int64, len(events))
	for i := range events {
		e := &events[i]
		_, err := tx.ExecContext(ctx, insertQuery,
			e.OriginatorID, e.OriginatorVersion, e.Topic, e.State)
		if err != nil {
			if IsUniqueViolation(err) {
				return es.AppendResult{}, recorder.ErrConcurrencyConflict
			}
			return es.AppendResult{}, fmt.Errorf("failed to insert event %d: %w", i, err)
		}
		versions[i] = e.OriginatorVersion
	}

	if err := a.updateHead(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	return es.AppendResult{CommittedVersions: versions}, nil
}

// prepareAppend validates the batch and checks it against the stream
// head: a batch at or below the head is a concurrency conflict, a batch
// past head + 1 would open a gap.
func (a *AggregateRecorder) prepareAppend(ctx context.Context, tx es.DBTX, events []es.StoredEvent) error {
	if len(events) == 0 {
		return recorder.ErrNoEvents
	}
	if err := es.ValidateBatch(events); err != nil {
		return err
	}

	first := &events[0]
	var head sql.NullInt64
	query := fmt.Sprintf(`
		SELECT originator_version
		FROM %s
		WHERE originator_id = $1
	`, a.config.StreamHeadsTable)

	err := tx.QueryRowContext(ctx, query, first.OriginatorID).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check stream head: %w", err)
	}

	if head.Valid {
		switch {
		case first.OriginatorVersion <= head.Int64:
			return recorder.ErrConcurrencyConflict
		case first.OriginatorVersion > head.Int64+1:
			return fmt.Errorf("%w: batch starts at %d past head %d",
				es.ErrIntegrityViolation, first.OriginatorVersion, head.Int64)
		}
	}
	return nil
}

func (a *AggregateRecorder) updateHead(ctx context.Context, tx es.DBTX, events []es.StoredEvent) error {
	latest := events[len(events)-1].OriginatorVersion
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (originator_id)
		DO UPDATE SET originator_version = EXCLUDED.originator_version, updated_at = NOW()
	`, a.config.StreamHeadsTable)

	_, err := tx.ExecContext(ctx, upsertQuery, events[0].OriginatorID, latest)
	if err != nil {
		return fmt.Errorf("failed to update stream head: %w", err)
	}
	return nil
}

// SelectEvents implements recorder.AggregateRecorder.
func (a *AggregateRecorder) SelectEvents(ctx context.Context, tx es.DBTX, originatorID uuid.UUID, opts ...es.SelectOption) ([]es.StoredEvent, error) {
	params := es.NewSelectParams(opts...)

	query := fmt.Sprintf(`
		SELECT originator_id, originator_version, topic, state
		FROM %s
		WHERE originator_id = $1
	`, a.config.EventsTable)
	args := []interface{}{originatorID}

	if params.Gt.Valid {
		args = append(args, params.Gt.Int64)
		query += fmt.Sprintf(" AND originator_version > $%d", len(args))
	}
	if params.Lte.Valid {
		args = append(args, params.Lte.Int64)
		query += fmt.Sprintf(" AND originator_version <= $%d", len(args))
	}
	if params.Desc {
		query += " ORDER BY originator_version DESC"
	} else {
		query += " ORDER BY originator_version ASC"
	}
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []es.StoredEvent
	for rows.Next() {
		var e es.StoredEvent
		if err := rows.Scan(&e.OriginatorID, &e.OriginatorVersion, &e.Topic, &e.State); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := es.CheckContiguous(events, params.Desc); err != nil {
		return nil, err
	}
	return events, nil
}

// ApplicationRecorder is a PostgreSQL-backed whole-application recorder.
// It extends the aggregate recorder with dense global notification ids
// reserved from the sequence table inside the caller's transaction; the
// counter row's lock is the one serialization point across concurrent
// appends, and a rollback releases the reserved ids with it.
type ApplicationRecorder struct {
	*AggregateRecorder
}

// NewApplicationRecorder creates a new Postgres application recorder.
func NewApplicationRecorder(config StoreConfig) *ApplicationRecorder {
	return &ApplicationRecorder{AggregateRecorder: NewAggregateRecorder(config)}
}

// InsertEvents implements recorder.ApplicationRecorder.
// Unlike the aggregate recorder, every event also receives the next
// unused notification id.
func (r *ApplicationRecorder) InsertEvents(ctx context.Context, tx es.DBTX, events []es.StoredEvent) (es.AppendResult, error) {
	if err := r.prepareAppend(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	firstID, err := r.reserveNotificationIDs(ctx, tx, int64(len(events)))
	if err != nil {
		return es.AppendResult{}, err
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, topic, state, notification_id)
		VALUES ($1, $2, $3, $4, $5)
	`, r.config.EventsTable)

	versions := make([]int64, len(events))
	notificationIDs := make([]int64, len(events))
	for i := range events {
		e := &events[i]
		notificationID := firstID + int64(i)
		_, err := tx.ExecContext(ctx, insertQuery,
			e.OriginatorID, e.OriginatorVersion, e.Topic, e.State, notificationID)
		if err != nil {
			if IsUniqueViolation(err) {
				return es.AppendResult{}, recorder.ErrConcurrencyConflict
			}
			return es.AppendResult{}, fmt.Errorf("failed to insert event %d: %w", i, err)
		}
		versions[i] = e.OriginatorVersion
		notificationIDs[i] = notificationID
	}

	if err := r.updateHead(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	return es.AppendResult{
		CommittedVersions: versions,
		NotificationIDs:   notificationIDs,
	}, nil
}

// reserveNotificationIDs claims n consecutive ids and returns the first.
// The UPDATE takes a row lock on the counter, serializing id assignment
// across concurrent transactions without gaps.
func (r *ApplicationRecorder) reserveNotificationIDs(ctx context.Context, tx es.DBTX, n int64) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET last_notification_id = last_notification_id + $1
		WHERE id = 1
		RETURNING last_notification_id
	`, r.config.SequenceTable)

	var end int64
	err := tx.QueryRowContext(ctx, query, n).Scan(&end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("notification sequence table %s not initialized", r.config.SequenceTable)
		}
		return 0, fmt.Errorf("failed to reserve notification ids: %w", err)
	}
	return end - n + 1, nil
}

// SelectNotifications implements recorder.ApplicationRecorder.
func (r *ApplicationRecorder) SelectNotifications(ctx context.Context, tx es.DBTX, start int64, limit int, opts ...es.NotificationOption) ([]es.Notification, error) {
	params := es.NewNotificationParams(opts...)

	query := fmt.Sprintf(`
		SELECT notification_id, originator_id, originator_version, topic, state
		FROM %s
		WHERE notification_id >= $1
	`, r.config.EventsTable)
	args := []interface{}{start}

	if params.Stop.Valid {
		args = append(args, params.Stop.Int64)
		query += fmt.Sprintf(" AND notification_id <= $%d", len(args))
	}
	if len(params.Topics) > 0 {
		args = append(args, pq.Array(params.Topics))
		query += fmt.Sprintf(" AND topic = ANY($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY notification_id ASC LIMIT $%d", len(args))

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []es.Notification
	for rows.Next() {
		var n es.Notification
		if err := rows.Scan(&n.ID, &n.OriginatorID, &n.OriginatorVersion, &n.Topic, &n.State); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notifications, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
// It reads the sequence row rather than MAX over the events table, so
// the answer is O(1) and unaffected by aggregate-only rows.
func (r *ApplicationRecorder) MaxNotificationID(ctx context.Context, tx es.DBTX) (int64, error) {
	query := fmt.Sprintf(`
		SELECT last_notification_id FROM %s WHERE id = 1
	`, r.config.SequenceTable)

	var maxID int64
	err := tx.QueryRowContext(ctx, query).Scan(&maxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read notification sequence: %w", err)
	}
	return maxID, nil
}

// ProcessRecorder is a PostgreSQL-backed process recorder. It extends
// the application recorder with consumer tracking cursors.
type ProcessRecorder struct {
	*ApplicationRecorder
}

// NewProcessRecorder creates a new Postgres process recorder.
func NewProcessRecorder(config StoreConfig) *ProcessRecorder {
	return &ProcessRecorder{ApplicationRecorder: NewApplicationRecorder(config)}
}

// MaxTrackingID implements recorder.ProcessRecorder.
func (p *ProcessRecorder) MaxTrackingID(ctx context.Context, tx es.DBTX, applicationName string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT notification_id FROM %s WHERE application_name = $1
	`, p.config.TrackingTable)

	var maxID int64
	err := tx.QueryRowContext(ctx, query, applicationName).Scan(&maxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read tracking cursor: %w", err)
	}
	return maxID, nil
}

// InsertTracking implements recorder.ProcessRecorder.
// GREATEST keeps the upsert monotonic: a stale id never moves the
// cursor backward.
func (p *ProcessRecorder) InsertTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (application_name, notification_id)
		VALUES ($1, $2)
		ON CONFLICT (application_name)
		DO UPDATE SET notification_id = GREATEST(%s.notification_id, EXCLUDED.notification_id)
	`, p.config.TrackingTable, p.config.TrackingTable)

	_, err := tx.ExecContext(ctx, query, tracking.ApplicationName, tracking.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to upsert tracking cursor: %w", err)
	}
	return nil
}

// InsertEventsWithTracking implements recorder.ProcessRecorder.
// An empty batch records the tracking cursor only, for process steps
// that produce no output events.
func (p *ProcessRecorder) InsertEventsWithTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking, events []es.StoredEvent) (es.AppendResult, error) {
	if err := p.InsertTracking(ctx, tx, tracking); err != nil {
		return es.AppendResult{}, err
	}
	if len(events) == 0 {
		return es.AppendResult{}, nil
	}
	return p.InsertEvents(ctx, tx, events)
}

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint
// violation. This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}

// Schema returns the DDL for the recorder tables. The statements are
// idempotent; apply them with your own migration tooling or directly in
// tests and examples.
func Schema(config StoreConfig) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	originator_id UUID NOT NULL,
	originator_version BIGINT NOT NULL,
	topic TEXT NOT NULL,
	state BYTEA NOT NULL,
	notification_id BIGINT,
	PRIMARY KEY (originator_id, originator_version)
);

CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_notification_id_idx
	ON %[1]s (notification_id);

CREATE TABLE IF NOT EXISTS %[2]s (
	originator_id UUID PRIMARY KEY,
	originator_version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS %[3]s (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	last_notification_id BIGINT NOT NULL
);

INSERT INTO %[3]s (id, last_notification_id)
	VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS %[4]s (
	application_name TEXT PRIMARY KEY,
	notification_id BIGINT NOT NULL
);
`,
		config.EventsTable,
		config.StreamHeadsTable,
		config.SequenceTable,
		config.TrackingTable,
	)
}

var (
	_ recorder.AggregateRecorder   = (*AggregateRecorder)(nil)
	_ recorder.ApplicationRecorder = (*ApplicationRecorder)(nil)
	_ recorder.ProcessRecorder     = (*ProcessRecorder)(nil)
)
