package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/recordstore/es"
)

// ErrProjectionStopped indicates the projection was stopped due to an error.
var ErrProjectionStopped = errors.New("projection stopped")

// errNoNotifications signals an exhausted notification log to the poll loop.
var errNoNotifications = errors.New("no notifications in batch")

// TrackingStore is the slice of the process recorder a processor needs:
// reading notifications and reading/advancing the tracking cursor.
type TrackingStore interface {
	SelectNotifications(ctx context.Context, tx es.DBTX, start int64, limit int, opts ...es.NotificationOption) ([]es.Notification, error)
	MaxTrackingID(ctx context.Context, tx es.DBTX, applicationName string) (int64, error)
	InsertTracking(ctx context.Context, tx es.DBTX, tracking es.Tracking) error
}

// TxProvider begins the per-batch transactions. Implemented by *sql.DB.
type TxProvider interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Processor delivers notifications to a projection in batches, resuming
// from the projection's tracking cursor.
//
// Each batch runs in one transaction: read the cursor, read the next
// notifications, handle them, advance the cursor, commit. A crash
// between handling and commit re-delivers the batch; handlers must be
// idempotent or write their effects through the supplied transaction.
type Processor struct {
	db     TxProvider
	store  TrackingStore
	config ProcessorConfig
}

// NewProcessor creates a new notification processor.
func NewProcessor(db TxProvider, store TrackingStore, config ProcessorConfig) *Processor {
	return &Processor{
		db:     db,
		store:  store,
		config: config,
	}
}

// Run processes notifications for the given projection until the context
// is canceled. Returns ErrProjectionStopped if the handler fails.
func (p *Processor) Run(ctx context.Context, proj Projection) error {
	if err := p.config.Validate(); err != nil {
		return err
	}

	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection processor starting",
			"projection", proj.Name(),
			"partition_key", p.config.PartitionKey,
			"total_partitions", p.config.TotalPartitions,
			"batch_size", p.config.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := p.processBatch(ctx, proj)
		if err != nil {
			if errors.Is(err, errNoNotifications) {
				// Log exhausted, wait before polling again
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.config.PollInterval):
				}
				continue
			}
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection processor error",
					"projection", proj.Name(),
					"error", err)
			}
			return fmt.Errorf("%w: %v", ErrProjectionStopped, err)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context, proj Projection) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	cursor, err := p.store.MaxTrackingID(ctx, tx, proj.Name())
	if err != nil {
		return fmt.Errorf("failed to read tracking cursor: %w", err)
	}

	var opts []es.NotificationOption
	if len(p.config.Topics) > 0 {
		opts = append(opts, es.WithTopics(p.config.Topics...))
	}
	notifications, err := p.store.SelectNotifications(ctx, tx, cursor+1, p.config.BatchSize, opts...)
	if err != nil {
		return fmt.Errorf("failed to select notifications: %w", err)
	}
	if len(notifications) == 0 {
		return errNoNotifications
	}

	var processedCount, skippedCount int
	for _, n := range notifications {
		if !p.config.PartitionStrategy.ShouldProcess(
			n.OriginatorID.String(),
			p.config.PartitionKey,
			p.config.TotalPartitions,
		) {
			skippedCount++
			continue
		}

		if err := proj.Handle(ctx, tx, n); err != nil {
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection handler error",
					"projection", proj.Name(),
					"notification_id", n.ID,
					"topic", n.Topic,
					"error", err)
			}
			return fmt.Errorf("projection handler error at notification %d: %w", n.ID, err)
		}
		processedCount++
	}

	// Skipped notifications advance the cursor too; another partition
	// owns them.
	last := notifications[len(notifications)-1].ID
	err = p.store.InsertTracking(ctx, tx, es.Tracking{
		ApplicationName: proj.Name(),
		NotificationID:  last,
	})
	if err != nil {
		return fmt.Errorf("failed to advance tracking cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "batch processed",
			"projection", proj.Name(),
			"processed", processedCount,
			"skipped", skippedCount,
			"cursor", last)
	}

	return nil
}

var _ ProcessorRunner = (*Processor)(nil)
