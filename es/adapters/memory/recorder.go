// Package memory provides an in-process recorder for tests and
// development. It implements every record role behind one mutex, which
// makes each call atomic; the DBTX argument is accepted for interface
// compatibility and ignored, so passing nil is fine.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/getpup/recordstore/es"
	"github.com/getpup/recordstore/es/recorder"
)

// Recorder is a mutex-guarded in-memory recorder.
type Recorder struct {
	mu                  sync.Mutex
	streams             map[uuid.UUID][]es.StoredEvent
	notifications       []es.Notification
	lastNotificationID  int64
	tracking            map[string]int64
	assignNotifications bool
}

// NewRecorder creates an in-memory process recorder: appended events
// receive global notification ids and tracking cursors are available.
func NewRecorder() *Recorder {
	return &Recorder{
		streams:             make(map[uuid.UUID][]es.StoredEvent),
		tracking:            make(map[string]int64),
		assignNotifications: true,
	}
}

// NewAggregateRecorder creates an in-memory recorder that stores stream
// events without assigning notification ids, mirroring the SQL
// aggregate-only recorders.
func NewAggregateRecorder() *Recorder {
	r := NewRecorder()
	r.assignNotifications = false
	return r
}

// InsertEvents implements recorder.AggregateRecorder.
func (r *Recorder) InsertEvents(_ context.Context, _ es.DBTX, events []es.StoredEvent) (es.AppendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(events)
}

func (r *Recorder) insertLocked(events []es.StoredEvent) (es.AppendResult, error) {
	if len(events) == 0 {
		return es.AppendResult{}, recorder.ErrNoEvents
	}
	if err := es.ValidateBatch(events); err != nil {
		return es.AppendResult{}, err
	}

	first := events[0]
	stream := r.streams[first.OriginatorID]
	if len(stream) > 0 {
		head := stream[len(stream)-1].OriginatorVersion
		switch {
		case first.OriginatorVersion <= head:
			return es.AppendResult{}, recorder.ErrConcurrencyConflict
		case first.OriginatorVersion > head+1:
			return es.AppendResult{}, es.ErrIntegrityViolation
		}
	}

	// Validation is done; nothing below can fail, so the batch applies
	// all-or-nothing.
	versions := make([]int64, len(events))
	var notificationIDs []int64
	if r.assignNotifications {
		notificationIDs = make([]int64, len(events))
	}
	for i, e := range events {
		versions[i] = e.OriginatorVersion
		r.streams[first.OriginatorID] = append(r.streams[first.OriginatorID], e)
		if r.assignNotifications {
			r.lastNotificationID++
			notificationIDs[i] = r.lastNotificationID
			r.notifications = append(r.notifications, es.Notification{
				ID:                r.lastNotificationID,
				OriginatorID:      e.OriginatorID,
				OriginatorVersion: e.OriginatorVersion,
				Topic:             e.Topic,
				State:             e.State,
			})
		}
	}

	return es.AppendResult{
		CommittedVersions: versions,
		NotificationIDs:   notificationIDs,
	}, nil
}

// SelectEvents implements recorder.AggregateRecorder.
func (r *Recorder) SelectEvents(_ context.Context, _ es.DBTX, originatorID uuid.UUID, opts ...es.SelectOption) ([]es.StoredEvent, error) {
	params := es.NewSelectParams(opts...)

	r.mu.Lock()
	defer r.mu.Unlock()

	var events []es.StoredEvent
	stream := r.streams[originatorID]
	if params.Desc {
		for i := len(stream) - 1; i >= 0; i-- {
			if !inRange(stream[i].OriginatorVersion, params) {
				continue
			}
			events = append(events, stream[i])
			if params.Limit > 0 && len(events) >= params.Limit {
				break
			}
		}
	} else {
		for i := range stream {
			if !inRange(stream[i].OriginatorVersion, params) {
				continue
			}
			events = append(events, stream[i])
			if params.Limit > 0 && len(events) >= params.Limit {
				break
			}
		}
	}

	if err := es.CheckContiguous(events, params.Desc); err != nil {
		return nil, err
	}
	return events, nil
}

func inRange(version int64, params es.SelectParams) bool {
	if params.Gt.Valid && version <= params.Gt.Int64 {
		return false
	}
	if params.Lte.Valid && version > params.Lte.Int64 {
		return false
	}
	return true
}

// SelectNotifications implements recorder.ApplicationRecorder.
func (r *Recorder) SelectNotifications(_ context.Context, _ es.DBTX, start int64, limit int, opts ...es.NotificationOption) ([]es.Notification, error) {
	params := es.NewNotificationParams(opts...)

	r.mu.Lock()
	defer r.mu.Unlock()

	var topics map[string]bool
	if len(params.Topics) > 0 {
		topics = make(map[string]bool, len(params.Topics))
		for _, t := range params.Topics {
			topics[t] = true
		}
	}

	var notifications []es.Notification
	for _, n := range r.notifications {
		if n.ID < start {
			continue
		}
		if params.Stop.Valid && n.ID > params.Stop.Int64 {
			break
		}
		if topics != nil && !topics[n.Topic] {
			continue
		}
		notifications = append(notifications, n)
		if len(notifications) >= limit {
			break
		}
	}
	return notifications, nil
}

// MaxNotificationID implements recorder.ApplicationRecorder.
func (r *Recorder) MaxNotificationID(_ context.Context, _ es.DBTX) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastNotificationID, nil
}

// MaxTrackingID implements recorder.ProcessRecorder.
func (r *Recorder) MaxTrackingID(_ context.Context, _ es.DBTX, applicationName string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracking[applicationName], nil
}

// InsertTracking implements recorder.ProcessRecorder.
func (r *Recorder) InsertTracking(_ context.Context, _ es.DBTX, tracking es.Tracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertTrackingLocked(tracking)
	return nil
}

func (r *Recorder) insertTrackingLocked(tracking es.Tracking) {
	if tracking.NotificationID > r.tracking[tracking.ApplicationName] {
		r.tracking[tracking.ApplicationName] = tracking.NotificationID
	}
}

// InsertEventsWithTracking implements recorder.ProcessRecorder.
// Both mutations happen under one lock hold, so the pair is atomic.
// An empty batch records the tracking cursor only.
func (r *Recorder) InsertEventsWithTracking(_ context.Context, _ es.DBTX, tracking es.Tracking, events []es.StoredEvent) (es.AppendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(events) == 0 {
		r.insertTrackingLocked(tracking)
		return es.AppendResult{}, nil
	}

	result, err := r.insertLocked(events)
	if err != nil {
		return es.AppendResult{}, err
	}
	r.insertTrackingLocked(tracking)
	return result, nil
}

var _ recorder.ProcessRecorder = (*Recorder)(nil)
