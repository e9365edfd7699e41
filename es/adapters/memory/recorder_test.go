package memory

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/getpup/recordstore/es"
	"github.com/getpup/recordstore/es/recorder"
)

func makeBatch(id uuid.UUID, start int64, topics ...string) []es.StoredEvent {
	events := make([]es.StoredEvent, len(topics))
	for i, topic := range topics {
		events[i] = es.StoredEvent{
			OriginatorID:      id,
			OriginatorVersion: start + int64(i),
			Topic:             topic,
			State:             []byte(`{}`),
		}
	}
	return events
}

func TestInsertEvents_ContiguousAcrossBatches(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	// Appends of sizes 1, 3, 2 must read back as one contiguous range.
	_, err := rec.InsertEvents(ctx, nil, makeBatch(id, 1, "Created"))
	require.NoError(t, err)
	_, err = rec.InsertEvents(ctx, nil, makeBatch(id, 2, "Updated", "Updated", "Updated"))
	require.NoError(t, err)
	_, err = rec.InsertEvents(ctx, nil, makeBatch(id, 5, "Updated", "Closed"))
	require.NoError(t, err)

	events, err := rec.SelectEvents(ctx, nil, id)
	require.NoError(t, err)
	require.Len(t, events, 6)
	for i, e := range events {
		require.Equal(t, int64(1+i), e.OriginatorVersion)
	}
}

func TestInsertEvents_ConflictLeavesStreamUnchanged(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	_, err := rec.InsertEvents(ctx, nil, makeBatch(id, 0, "Created", "Updated", "Updated"))
	require.NoError(t, err)

	before, err := rec.SelectEvents(ctx, nil, id)
	require.NoError(t, err)
	maxBefore, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)

	// Re-appending an existing version must fail and change nothing.
	_, err = rec.InsertEvents(ctx, nil, makeBatch(id, 1, "Updated"))
	require.ErrorIs(t, err, recorder.ErrConcurrencyConflict)

	after, err := rec.SelectEvents(ctx, nil, id)
	require.NoError(t, err)
	require.Equal(t, before, after)

	maxAfter, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, maxBefore, maxAfter)
}

func TestInsertEvents_GapPastHead(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	_, err := rec.InsertEvents(ctx, nil, makeBatch(id, 1, "Created"))
	require.NoError(t, err)

	_, err = rec.InsertEvents(ctx, nil, makeBatch(id, 3, "Updated"))
	require.ErrorIs(t, err, es.ErrIntegrityViolation)
}

func TestInsertEvents_EmptyBatch(t *testing.T) {
	rec := NewRecorder()

	_, err := rec.InsertEvents(context.Background(), nil, nil)
	require.ErrorIs(t, err, recorder.ErrNoEvents)
}

func TestSelectEvents_UnknownStreamIsEmpty(t *testing.T) {
	rec := NewRecorder()

	events, err := rec.SelectEvents(context.Background(), nil, uuid.New())
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestSelectEvents_BoundsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	_, err := rec.InsertEvents(ctx, nil, makeBatch(id, 0, "A", "B", "C", "D", "E"))
	require.NoError(t, err)

	t.Run("gt is exclusive", func(t *testing.T) {
		events, err := rec.SelectEvents(ctx, nil, id, es.WithGt(1))
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.Equal(t, int64(2), events[0].OriginatorVersion)
	})

	t.Run("lte is inclusive", func(t *testing.T) {
		events, err := rec.SelectEvents(ctx, nil, id, es.WithLte(2))
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.Equal(t, int64(2), events[2].OriginatorVersion)
	})

	t.Run("desc", func(t *testing.T) {
		events, err := rec.SelectEvents(ctx, nil, id, es.WithDesc())
		require.NoError(t, err)
		require.Len(t, events, 5)
		require.Equal(t, int64(4), events[0].OriginatorVersion)
		require.Equal(t, int64(0), events[4].OriginatorVersion)
	})

	t.Run("limit", func(t *testing.T) {
		events, err := rec.SelectEvents(ctx, nil, id, es.WithLimit(2))
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("combined", func(t *testing.T) {
		events, err := rec.SelectEvents(ctx, nil, id, es.WithGt(0), es.WithLte(3), es.WithDesc(), es.WithLimit(2))
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, int64(3), events[0].OriginatorVersion)
		require.Equal(t, int64(2), events[1].OriginatorVersion)
	})
}

func TestNotificationIDs_DenseAndOrdered(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	a := uuid.New()
	b := uuid.New()

	resA, err := rec.InsertEvents(ctx, nil, makeBatch(a, 1, "Created", "Updated"))
	require.NoError(t, err)
	resB, err := rec.InsertEvents(ctx, nil, makeBatch(b, 1, "Created"))
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2}, resA.NotificationIDs)
	require.Equal(t, []int64{3}, resB.NotificationIDs)

	maxID, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), maxID)
}

func TestNotificationIDs_ConcurrentAppendsDisjoint(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	const writers = 8
	const batches = 25
	const batchSize = 4

	results := make(chan []int64, writers*batches)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			version := int64(1)
			for b := 0; b < batches; b++ {
				batch := makeBatch(id, version, "A", "B", "C", "D")
				res, err := rec.InsertEvents(ctx, nil, batch)
				if err != nil {
					t.Error(err)
					return
				}
				results <- res.NotificationIDs
				version += batchSize
			}
		}()
	}
	wg.Wait()
	close(results)

	var all []int64
	for ids := range results {
		// Each batch's ids are internally ascending and contiguous.
		for i := 1; i < len(ids); i++ {
			require.Equal(t, ids[i-1]+1, ids[i])
		}
		all = append(all, ids...)
	}

	// Across batches the ids are disjoint and dense overall.
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	require.Len(t, all, writers*batches*batchSize)
	for i, id := range all {
		require.Equal(t, int64(i+1), id)
	}

	maxID, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(writers*batches*batchSize), maxID)
}

func TestSelectNotifications_RangeTopicsAndLimit(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	_, err := rec.InsertEvents(ctx, nil, makeBatch(id, 1, "X", "Y", "X", "Y", "X"))
	require.NoError(t, err)

	t.Run("start and limit", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, nil, 2, 2)
		require.NoError(t, err)
		require.Len(t, notifications, 2)
		require.Equal(t, int64(2), notifications[0].ID)
		require.Equal(t, int64(3), notifications[1].ID)
	})

	t.Run("stop is inclusive", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, nil, 1, 10, es.WithStop(3))
		require.NoError(t, err)
		require.Len(t, notifications, 3)
	})

	t.Run("topic filter", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, nil, 1, 10, es.WithTopics("X"))
		require.NoError(t, err)
		require.Len(t, notifications, 3)
		for _, n := range notifications {
			require.Equal(t, "X", n.Topic)
		}
	})

	t.Run("past the end", func(t *testing.T) {
		notifications, err := rec.SelectNotifications(ctx, nil, 100, 10)
		require.NoError(t, err)
		require.Empty(t, notifications)
	})
}

func TestTracking_MonotonicUpsert(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	maxID, err := rec.MaxTrackingID(ctx, nil, "reporting")
	require.NoError(t, err)
	require.Equal(t, int64(0), maxID)

	require.NoError(t, rec.InsertTracking(ctx, nil, es.Tracking{ApplicationName: "reporting", NotificationID: 5}))
	require.NoError(t, rec.InsertTracking(ctx, nil, es.Tracking{ApplicationName: "reporting", NotificationID: 3}))

	maxID, err = rec.MaxTrackingID(ctx, nil, "reporting")
	require.NoError(t, err)
	require.Equal(t, int64(5), maxID)

	// Cursors are per application.
	maxID, err = rec.MaxTrackingID(ctx, nil, "billing")
	require.NoError(t, err)
	require.Equal(t, int64(0), maxID)
}

func TestInsertEventsWithTracking(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	id := uuid.New()

	res, err := rec.InsertEventsWithTracking(ctx, nil,
		es.Tracking{ApplicationName: "proc", NotificationID: 7},
		makeBatch(id, 1, "Created"))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, res.CommittedVersions)

	maxID, err := rec.MaxTrackingID(ctx, nil, "proc")
	require.NoError(t, err)
	require.Equal(t, int64(7), maxID)

	t.Run("conflict records no tracking", func(t *testing.T) {
		_, err := rec.InsertEventsWithTracking(ctx, nil,
			es.Tracking{ApplicationName: "proc", NotificationID: 9},
			makeBatch(id, 1, "Updated"))
		require.ErrorIs(t, err, recorder.ErrConcurrencyConflict)

		maxID, err := rec.MaxTrackingID(ctx, nil, "proc")
		require.NoError(t, err)
		require.Equal(t, int64(7), maxID)
	})

	t.Run("empty batch records tracking only", func(t *testing.T) {
		_, err := rec.InsertEventsWithTracking(ctx, nil,
			es.Tracking{ApplicationName: "proc", NotificationID: 8}, nil)
		require.NoError(t, err)

		maxID, err := rec.MaxTrackingID(ctx, nil, "proc")
		require.NoError(t, err)
		require.Equal(t, int64(8), maxID)
	})
}

func TestAggregateRecorder_NoNotificationIDs(t *testing.T) {
	ctx := context.Background()
	rec := NewAggregateRecorder()
	id := uuid.New()

	res, err := rec.InsertEvents(ctx, nil, makeBatch(id, 1, "Created", "Updated"))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, res.CommittedVersions)
	require.Empty(t, res.NotificationIDs)

	maxID, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), maxID)
}

// Scenario from the consumer's point of view: create a stream, read it
// back in full and after a bound, and verify a stale writer loses
// without side effects.
func TestScenario_StaleWriterLoses(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	a := uuid.New()

	_, err := rec.InsertEvents(ctx, nil, makeBatch(a, 0, "Created", "Updated", "Updated"))
	require.NoError(t, err)

	events, err := rec.SelectEvents(ctx, nil, a)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "Created", events[0].Topic)

	tail, err := rec.SelectEvents(ctx, nil, a, es.WithGt(0))
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, int64(1), tail[0].OriginatorVersion)
	require.Equal(t, int64(2), tail[1].OriginatorVersion)

	maxBefore, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)

	_, err = rec.InsertEvents(ctx, nil, makeBatch(a, 1, "Updated"))
	require.ErrorIs(t, err, recorder.ErrConcurrencyConflict)

	maxAfter, err := rec.MaxNotificationID(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, maxBefore, maxAfter)
}
