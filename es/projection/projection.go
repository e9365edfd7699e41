// Package projection provides resumable, at-least-once notification
// consumers built on the tracking store.
package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/getpup/recordstore/es"
)

// ErrInvalidPartitionConfig indicates invalid partition configuration.
var ErrInvalidPartitionConfig = errors.New("invalid partition configuration")

// Projection defines the interface for notification handlers.
type Projection interface {
	// Name returns the unique name of this projection. It doubles as
	// the application name under which the tracking cursor is stored.
	Name() string

	// Handle processes a single notification. Writes made through tx
	// commit atomically with the tracking cursor advance, which is
	// what turns at-least-once delivery into exactly-once effects.
	// Return an error to stop processing.
	Handle(ctx context.Context, tx es.DBTX, notification es.Notification) error
}

// ProcessorRunner is the part of a processor the runner package needs.
type ProcessorRunner interface {
	Run(ctx context.Context, proj Projection) error
}

// PartitionStrategy defines how notifications are partitioned across
// projection instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this projection instance should
	// process notifications for the given originator.
	ShouldProcess(originatorID string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy implements deterministic hash-based partitioning.
// All notifications for the same originator go to the same partition, so
// per-stream ordering survives horizontal scale-out.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy using FNV-1a hashing.
func (HashPartitionStrategy) ShouldProcess(originatorID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(originatorID))
	partition := int(h.Sum32()) % totalPartitions
	return partition == partitionKey
}

// ProcessorConfig configures a notification processor.
type ProcessorConfig struct {
	// Logger is an optional logger for observability.
	Logger es.Logger

	// BatchSize is the number of notifications to read per batch
	BatchSize int

	// PollInterval is how long to wait before re-polling when the
	// notification log is exhausted
	PollInterval time.Duration

	// Topics restricts the processor to notifications with one of
	// these topics. Empty means all topics.
	Topics []string

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int

	// PartitionStrategy determines which notifications this processor handles
	PartitionStrategy PartitionStrategy
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PollInterval:      100 * time.Millisecond,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
	}
}

// Validate checks the partition and batch configuration.
func (c ProcessorConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidPartitionConfig, c.BatchSize)
	}
	if c.TotalPartitions <= 0 {
		return fmt.Errorf("%w: total partitions must be positive, got %d", ErrInvalidPartitionConfig, c.TotalPartitions)
	}
	if c.PartitionKey < 0 || c.PartitionKey >= c.TotalPartitions {
		return fmt.Errorf("%w: partition key %d out of range [0, %d)", ErrInvalidPartitionConfig, c.PartitionKey, c.TotalPartitions)
	}
	return nil
}
