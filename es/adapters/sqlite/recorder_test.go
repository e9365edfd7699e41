package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/getpup/recordstore/es"
	"github.com/getpup/recordstore/es/adapters/sqlite"
	"github.com/getpup/recordstore/es/recorder"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbFile := filepath.Join(t.TempDir(), "recordstore_test.db")
	db, err := sql.Open("sqlite", dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// A single connection sidesteps SQLITE_BUSY between the pool's
	// connections in tests.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(sqlite.Schema(sqlite.DefaultStoreConfig()))
	require.NoError(t, err)

	return db
}

func makeBatch(id uuid.UUID, start int64, topics ...string) []es.StoredEvent {
	events := make([]es.StoredEvent, len(topics))
	for i, topic := range topics {
		events[i] = es.StoredEvent{
			OriginatorID:      id,
			OriginatorVersion: start + int64(i),
			Topic:             topic,
			State:             []byte(`{"n":1}`),
		}
	}
	return events
}

func TestInsertAndSelectEvents(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())
	id := uuid.New()

	res, err := rec.InsertEvents(ctx, db, makeBatch(id, 0, "Created", "Updated", "Updated"))
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2}, res.CommittedVersions)
	require.Equal(t, []int64{1, 2, 3}, res.NotificationIDs)

	events, err := rec.SelectEvents(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, id, events[0].OriginatorID)
	require.Equal(t, "Created", events[0].Topic)
	require.Equal(t, []byte(`{"n":1}`), events[0].State)

	tail, err := rec.SelectEvents(ctx, db, id, es.WithGt(0))
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, int64(1), tail[0].OriginatorVersion)

	bounded, err := rec.SelectEvents(ctx, db, id, es.WithGt(0), es.WithLte(1))
	require.NoError(t, err)
	require.Len(t, bounded, 1)

	descending, err := rec.SelectEvents(ctx, db, id, es.WithDesc(), es.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, descending, 2)
	require.Equal(t, int64(2), descending[0].OriginatorVersion)
	require.Equal(t, int64(1), descending[1].OriginatorVersion)
}

func TestInsertEvents_Conflict(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())
	id := uuid.New()

	_, err := rec.InsertEvents(ctx, db, makeBatch(id, 0, "Created", "Updated", "Updated"))
	require.NoError(t, err)

	before, err := rec.SelectEvents(ctx, db, id)
	require.NoError(t, err)

	_, err = rec.InsertEvents(ctx, db, makeBatch(id, 1, "Updated"))
	require.ErrorIs(t, err, recorder.ErrConcurrencyConflict)

	after, err := rec.SelectEvents(ctx, db, id)
	require.NoError(t, err)
	require.Equal(t, before, after)

	maxID, err := rec.MaxNotificationID(ctx, db)
	require.NoError(t, err)
	require.Equal(t, int64(3), maxID)

	// The stream extends normally from its real head.
	_, err = rec.InsertEvents(ctx, db, makeBatch(id, 3, "Closed"))
	require.NoError(t, err)
}

func TestInsertEvents_RollbackKeepsIDsDense(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = rec.InsertEvents(ctx, tx, makeBatch(uuid.New(), 1, "Created", "Updated"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// The rolled-back append released its reserved ids with it.
	res, err := rec.InsertEvents(ctx, db, makeBatch(uuid.New(), 1, "Created"))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, res.NotificationIDs)
}

func TestSelectEvents_UnknownStream(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewAggregateRecorder(sqlite.DefaultStoreConfig())

	events, err := rec.SelectEvents(ctx, db, uuid.New())
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestAggregateRecorder_SeparateTable(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)

	snapshotConfig := sqlite.NewStoreConfig(
		sqlite.WithEventsTable("snapshots"),
		sqlite.WithStreamHeadsTable("snapshot_heads"),
	)
	_, err := db.Exec(sqlite.Schema(snapshotConfig))
	require.NoError(t, err)

	rec := sqlite.NewAggregateRecorder(snapshotConfig)
	id := uuid.New()

	res, err := rec.InsertEvents(ctx, db, makeBatch(id, 1, "Snapshot"))
	require.NoError(t, err)
	require.Empty(t, res.NotificationIDs)

	events, err := rec.SelectEvents(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSelectNotifications(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())

	a := uuid.New()
	b := uuid.New()
	_, err := rec.InsertEvents(ctx, db, makeBatch(a, 1, "X", "Y"))
	require.NoError(t, err)
	_, err = rec.InsertEvents(ctx, db, makeBatch(b, 1, "X", "X"))
	require.NoError(t, err)

	t.Run("ascending from start", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, db, 2, 10)
		require.NoError(t, err)
		require.Len(t, notifications, 3)
		require.Equal(t, int64(2), notifications[0].ID)
		require.Equal(t, int64(4), notifications[2].ID)
	})

	t.Run("limit", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, db, 1, 2)
		require.NoError(t, err)
		require.Len(t, notifications, 2)
	})

	t.Run("stop", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, db, 1, 10, es.WithStop(2))
		require.NoError(t, err)
		require.Len(t, notifications, 2)
	})

	t.Run("topics", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, db, 1, 10, es.WithTopics("X"))
		require.NoError(t, err)
		require.Len(t, notifications, 3)
		for _, n := range notifications {
			require.Equal(t, "X", n.Topic)
		}
	})

	t.Run("carries originator fields", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, db, 1, 1)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		require.Equal(t, a, notifications[0].OriginatorID)
		require.Equal(t, int64(1), notifications[0].OriginatorVersion)
	})
}

func TestTracking(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())

	maxID, err := rec.MaxTrackingID(ctx, db, "reporting")
	require.NoError(t, err)
	require.Equal(t, int64(0), maxID)

	require.NoError(t, rec.InsertTracking(ctx, db, es.Tracking{ApplicationName: "reporting", NotificationID: 5}))
	require.NoError(t, rec.InsertTracking(ctx, db, es.Tracking{ApplicationName: "reporting", NotificationID: 3}))

	maxID, err = rec.MaxTrackingID(ctx, db, "reporting")
	require.NoError(t, err)
	require.Equal(t, int64(5), maxID)
}

func TestInsertEventsWithTracking_Atomic(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	rec := sqlite.NewProcessRecorder(sqlite.DefaultStoreConfig())
	id := uuid.New()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = rec.InsertEventsWithTracking(ctx, tx,
		es.Tracking{ApplicationName: "proc", NotificationID: 4},
		makeBatch(id, 1, "Created"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	maxID, err := rec.MaxTrackingID(ctx, db, "proc")
	require.NoError(t, err)
	require.Equal(t, int64(4), maxID)

	// A rolled-back unit applies neither the events nor the cursor.
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = rec.InsertEventsWithTracking(ctx, tx,
		es.Tracking{ApplicationName: "proc", NotificationID: 9},
		makeBatch(id, 2, "Updated"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	maxID, err = rec.MaxTrackingID(ctx, db, "proc")
	require.NoError(t, err)
	require.Equal(t, int64(4), maxID)

	events, err := rec.SelectEvents(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, sqlite.IsUniqueViolation(nil))
	require.False(t, sqlite.IsUniqueViolation(context.Canceled))
}
