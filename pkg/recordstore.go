// Package recordstore provides an append-only event store with
// optimistic concurrency control and an ordered notification log.
//
// This package serves as the main entry point for the recordstore
// library. For the core functionality, see the es package and its
// subpackages:
//
//	es             - Core types (StoredEvent, Notification, Tracking)
//	es/recorder    - Record-role contracts (aggregate/application/process)
//	es/projection  - Resumable at-least-once notification consumers
//	es/adapters/postgres - PostgreSQL implementation
//	es/adapters/mysql    - MySQL implementation
//	es/adapters/sqlite   - SQLite implementation
//	es/adapters/memory   - In-process implementation for tests
//
// Quick Start:
//
//  1. Apply the adapter's Schema() DDL to your database
//
//  2. Create a recorder and append events:
//     rec := postgres.NewApplicationRecorder(postgres.DefaultStoreConfig())
//     tx, _ := db.BeginTx(ctx, nil)
//     result, err := rec.InsertEvents(ctx, tx, events)
//     tx.Commit()
//
//  3. Consume notifications:
//     processor := projection.NewProcessor(db, rec, projection.DefaultProcessorConfig())
//     processor.Run(ctx, myProjection)
//
// See the examples directory for complete working examples.
package recordstore

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
