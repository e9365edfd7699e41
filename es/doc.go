// Package es provides core types for an append-only event store with
// optimistic concurrency control and an ordered notification log.
//
// # Overview
//
// This package defines the fundamental types shared by all recorders:
//   - StoredEvent: one immutable entry in a stream's version sequence
//   - Notification: a stored event with its global ordinal
//   - Tracking: a consumer's durable cursor into the notification log
//   - DBTX: database transaction abstraction
//
// The recorder interfaces live in the recorder package; concrete storage
// backends live under adapters.
//
// # Design Philosophy
//
// Transaction Control: The library uses DBTX instead of managing
// transactions. Callers own transaction boundaries, which is what allows
// a process recorder to commit a tracking update and its own output
// events as one atomic unit.
//
// Optimistic Concurrency: Per-stream serialization is enforced only by
// the uniqueness of (originator_id, originator_version). Two writers
// appending from the same stale read race at commit time; one loses with
// recorder.ErrConcurrencyConflict and must re-read the stream, recompute
// versions against the new tail and retry the whole batch. Recorders
// never renumber a conflicting event.
//
// Global Ordering: Every event committed through an application or
// process recorder receives the next unused notification id from a
// counter updated in the same transaction as the insert. Ids are dense
// and stable once assigned, so a consumer can resume a linear scan with
// nothing but its last seen id.
//
// # Quick Start
//
// Create a recorder and append events:
//
//	import (
//	    "github.com/getpup/recordstore/es"
//	    "github.com/getpup/recordstore/es/adapters/postgres"
//	)
//
//	rec := postgres.NewApplicationRecorder(postgres.DefaultStoreConfig())
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//
//	result, err := rec.InsertEvents(ctx, tx, []es.StoredEvent{
//	    {OriginatorID: id, OriginatorVersion: 1, Topic: "OrderCreated", State: payload},
//	})
//	if err != nil {
//	    return err
//	}
//	tx.Commit()
//
// Read a stream back:
//
//	events, err := rec.SelectEvents(ctx, db, id, es.WithGt(0), es.WithLimit(100))
//
// Scan the notification log:
//
//	notifications, err := rec.SelectNotifications(ctx, db, lastSeen+1, 100,
//	    es.WithTopics("OrderCreated"))
//
// See the projection package for resumable, at-least-once consumers built
// on the tracking store.
package es
