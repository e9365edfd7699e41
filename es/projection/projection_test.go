package projection

import (
	"errors"
	"testing"
)

func TestHashPartitionStrategy_SinglePartition(t *testing.T) {
	strategy := HashPartitionStrategy{}

	if !strategy.ShouldProcess("any-originator", 0, 1) {
		t.Error("Expected a single partition to process everything")
	}
}

func TestHashPartitionStrategy_Deterministic(t *testing.T) {
	strategy := HashPartitionStrategy{}
	const totalPartitions = 4

	originators := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range originators {
		var owners []int
		for key := 0; key < totalPartitions; key++ {
			// Same answer on every call
			first := strategy.ShouldProcess(id, key, totalPartitions)
			second := strategy.ShouldProcess(id, key, totalPartitions)
			if first != second {
				t.Errorf("Partition assignment for %q not deterministic", id)
			}
			if first {
				owners = append(owners, key)
			}
		}
		if len(owners) != 1 {
			t.Errorf("Expected exactly one owning partition for %q, got %v", id, owners)
		}
	}
}

func TestProcessorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProcessorConfig)
		wantErr bool
	}{
		{"default is valid", func(_ *ProcessorConfig) {}, false},
		{"zero batch size", func(c *ProcessorConfig) { c.BatchSize = 0 }, true},
		{"zero partitions", func(c *ProcessorConfig) { c.TotalPartitions = 0 }, true},
		{"negative partition key", func(c *ProcessorConfig) { c.PartitionKey = -1 }, true},
		{"partition key out of range", func(c *ProcessorConfig) { c.PartitionKey = 2; c.TotalPartitions = 2 }, true},
		{"last partition key", func(c *ProcessorConfig) { c.PartitionKey = 1; c.TotalPartitions = 2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultProcessorConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPartitionConfig) {
					t.Errorf("Expected ErrInvalidPartitionConfig, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
