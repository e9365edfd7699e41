// Package sqlite provides SQLite-backed recorders.
//
// The adapter targets driverless deployments via modernc.org/sqlite but
// only depends on database/sql; any SQLite driver works.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/getpup/recordstore/es"
	"github.com/getpup/recordstore/es/recorder"
)

// StoreConfig contains configuration for the SQLite recorders.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

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
		Logger:           nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring a StoreConfig.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the recorders.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

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
//
// Example:
//
//	config := sqlite.NewStoreConfig(
//	    sqlite.WithLogger(myLogger),
//	    sqlite.WithEventsTable("custom_events"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// AggregateRecorder is a SQLite-backed per-aggregate recorder.
type AggregateRecorder struct {
	config StoreConfig
}

// NewAggregateRecorder creates a new SQLite aggregate recorder.
func NewAggregateRecorder(config StoreConfig) *AggregateRecorder {
	return &AggregateRecorder{config: config}
}

// InsertEvents implements recorder.AggregateRecorder.
func (a *AggregateRecorder) InsertEvents(ctx context.Context, tx es.DBTX, events []es.StoredEvent) (es.AppendResult, error) {
	if err := a.prepareAppend(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (originator_id, originator_version, topic, state)
		VALUES (?, ?, ?, ?)
	`, a.config.EventsTable)

	versions := make([]int64, len(events))
	for i := range events {
		e := &events[i]
		_, err := tx.ExecContext(ctx, insertQuery,
			e.OriginatorID.String(), e.OriginatorVersion, e.Topic, e.State)
		if err != nil {
			if IsUniqueViolation(err) {
				if a.config.Logger != nil {
					a.config.Logger.Error(ctx, "optimistic concurrency conflict",
						"originator_id", e.OriginatorID,
						"originator_version", e.OriginatorVersion)
				}
				return es.AppendResult{}, recorder.ErrConcurrencyConflict
			}
			return es.AppendResult{}, fmt.Errorf("failed to insert event %d: %w", i, err)
		}
		versions[i] = e.OriginatorVersion
	}

	if err := a.updateHead(ctx, tx, events); err != nil {
		return es.AppendResult{}, err
	}

	if a.config.Logger != nil {
		a.config.Logger.Info(ctx, "events appended",
			"originator_id", events[0].OriginatorID,
			"event_count", len(events),
			"version_range", fmt.Sprintf("%d-%d", versions[0], versions[len(versions)-1]))
	}

	return es.AppendResult{CommittedVersions: versions}, nil
}

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
		WHERE originator_id = ?
	`, a.config.StreamHeadsTable)

	err := tx.QueryRowContext(ctx, query, first.OriginatorID.String()).Scan(&head)
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
		VALUES (?, ?, datetime('now'))
		ON CONFLICT (originator_id)
		DO UPDATE SET originator_version = excluded.originator_version, updated_at = datetime('now')
	`, a.config.StreamHeadsTable)

	_, err := tx.ExecContext(ctx, upsertQuery, events[0].OriginatorID.String(), latest)
	if err != nil {
		return fmt.Errorf("failed to update stream head: %w", err)
	}
	return nil
}

// SelectEvents implements recorder.AggregateRecorder.
func (a *AggregateRecorder) SelectEvents(ctx context.Context, tx es.DBTX, originatorID uuid.UUID, opts ...es.SelectOption) ([]es.StoredEvent, error) {
	params := es.NewSelectParams(opts...)

	if a.config.Logger != nil {
		a.config.Logger.Debug(ctx, "reading events",
			"originator_id", originatorID,
			"desc", params.Desc,
			"limit", params.Limit)
	}

	query := fmt.Sprintf(`
		SELECT originator_id, originator_version, topic, state
		FROM %s
		WHERE originator_id = ?
	`, a.config.EventsTable)
	args := []interface{}{originatorID.String()}

	if params.Gt.Valid {
		query += " AND originator_version > ?"
		args = append(args, params.Gt.Int64)
	}
	if params.Lte.Valid {
		query += " AND originator_version <= ?"
		args = append(args, params.Lte.Int64)
	}
	if params.Desc {
		query += " ORDER BY originator_version DESC"
	} else {
		query += " ORDER BY originator_version ASC"
	}
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []es.StoredEvent
	for rows.Next() {
		var e es.StoredEvent
		var id string
		if err := rows.Scan(&id, &e.OriginatorVersion, &e.Topic, &e.State); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OriginatorID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse originator ID: %w", err)
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

// ApplicationRecorder is a SQLite-backed whole-application recorder.
type ApplicationRecorder struct {
	*AggregateRecorder
}

// NewApplicationRecorder creates a new SQLite application recorder.
func NewApplicationRecorder(config StoreConfig) *ApplicationRecorder {
	return &ApplicationRecorder{AggregateRecorder: NewAggregateRecorder(config)}
}

// InsertEvents implements recorder.ApplicationRecorder.
// Notification ids come from the sequence table, read and advanced
// inside the caller's transaction. SQLite admits one writer at a time,
// so the read-modify-write is serialized; a rollback rewinds the
// counter with the inserts and ids stay dense.
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
		VALUES (?, ?, ?, ?, ?)
	`, r.config.EventsTable)

	versions := make([]int64, len(events))
	notificationIDs := make([]int64, len(events))
	for i := range events {
		e := &events[i]
		notificationID := firstID + int64(i)
		_, err := tx.ExecContext(ctx, insertQuery,
			e.OriginatorID.String(), e.OriginatorVersion, e.Topic, e.State, notificationID)
		if err != nil {
			if IsUniqueViolation(err) {
				if r.config.Logger != nil {
					r.config.Logger.Error(ctx, "optimistic concurrency conflict",
						"originator_id", e.OriginatorID,
						"originator_version", e.OriginatorVersion)
				}
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

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "events appended",
			"originator_id", events[0].OriginatorID,
			"event_count", len(events),
			"notification_ids", notificationIDs)
	}

	return es.AppendResult{
		CommittedVersions: versions,
		NotificationIDs:   notificationIDs,
	}, nil
}

func (r *ApplicationRecorder) reserveNotificationIDs(ctx context.Context, tx es.DBTX, n int64) (int64, error) {
	selectQuery := fmt.Sprintf(`
		SELECT last_notification_id FROM %s WHERE id = 1
	`, r.config.SequenceTable)

	var last int64
	err := tx.QueryRowContext(ctx, selectQuery).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("notification sequence table %s not initialized", r.config.SequenceTable)
		}
		return 0, fmt.Errorf("failed to read notification sequence: %w", err)
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s SET last_notification_id = ? WHERE id = 1
	`, r.config.SequenceTable)

	if _, err := tx.ExecContext(ctx, updateQuery, last+n); err != nil {
		return 0, fmt.Errorf("failed to advance notification sequence: %w", err)
	}
	return last + 1, nil
}

// SelectNotifications implements recorder.ApplicationRecorder.
func (r *ApplicationRecorder) SelectNotifications(ctx context.Context, tx es.DBTX, start int64, limit int, opts ...es.NotificationOption) ([]es.Notification, error) {
	params := es.NewNotificationParams(opts...)

	query := fmt.Sprintf(`
		SELECT notification_id, originator_id, originator_version, topic, state
		FROM %s
		WHERE notification_id >= ?
	`, r.config.EventsTable)
	args := []interface{}{start}

	if params.Stop.Valid {
		query += " AND notification_id <= ?"
		args = append(args, params.Stop.Int64)
	}
	if len(params.Topics) > 0 {
		placeholders := strings.Repeat("?, ", len(params.Topics))
		query += fmt.Sprintf(" AND topic IN (%s)", strings.TrimSuffix(placeholders, ", "))
		for _, topic := range params.Topics {
			args = append(args, topic)
		}
	}
	query += " ORDER BY notification_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []es.Notification
	for rows.Next() {
		var n es.Notification
		var id string
		if err := rows.Scan(&n.ID, &id, &n.OriginatorVersion, &n.Topic, &n.State); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.OriginatorID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse originator ID: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notifications, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
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

// ProcessRecorder is a SQLite-backed process recorder.
type ProcessRecorder struct {
	*ApplicationRecorder
}

// NewProcessRecorder creates a new SQLite process recorder.
func NewProcessRecorder(config StoreConfig) *ProcessRecorder {
	return &ProcessRecorder{ApplicationRecorder: NewApplicationRecorder(config)}
}

// MaxTrackingID implements recorder.ProcessRecorder.
func (p *ProcessRecorder) MaxTrackingID(ctx context.Context, tx es.DBTX, applicationName string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT notification_id FROM %s WHERE application_name = ?
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
func (p *ProcessRecorder) InsertTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (application_name, notification_id)
		VALUES (?, ?)
		ON CONFLICT (application_name)
		DO UPDATE SET notification_id = MAX(notification_id, excluded.notification_id)
	`, p.config.TrackingTable)

	_, err := tx.ExecContext(ctx, query, tracking.ApplicationName, tracking.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to upsert tracking cursor: %w", err)
	}
	return nil
}

// InsertEventsWithTracking implements recorder.ProcessRecorder.
// An empty batch records the tracking cursor only.
func (p *ProcessRecorder) InsertEventsWithTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking, events []es.StoredEvent) (es.AppendResult, error) {
	if err := p.InsertTracking(ctx, tx, tracking); err != nil {
		return es.AppendResult{}, err
	}
	if len(events) == 0 {
		return es.AppendResult{}, nil
	}
	return p.InsertEvents(ctx, tx, events)
}

// IsUniqueViolation checks if an error is a SQLite unique constraint
// violation. This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "constraint failed")
}

// Schema returns the DDL for the recorder tables. The statements are
// idempotent.
func Schema(config StoreConfig) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	originator_id TEXT NOT NULL,
	originator_version INTEGER NOT NULL,
	topic TEXT NOT NULL,
	state BLOB NOT NULL,
	notification_id INTEGER,
	PRIMARY KEY (originator_id, originator_version)
);

CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_notification_id_idx
	ON %[1]s (notification_id);

CREATE TABLE IF NOT EXISTS %[2]s (
	originator_id TEXT PRIMARY KEY,
	originator_version INTEGER NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS %[3]s (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_notification_id INTEGER NOT NULL
);

INSERT OR IGNORE INTO %[3]s (id, last_notification_id) VALUES (1, 0);

CREATE TABLE IF NOT EXISTS %[4]s (
	application_name TEXT PRIMARY KEY,
	notification_id INTEGER NOT NULL
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
