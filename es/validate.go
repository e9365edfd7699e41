package es

import (
	"errors"
	"fmt"
)

// ErrIntegrityViolation indicates a gap or duplicate in a stream's
// version sequence. On a read it means the backend is corrupt or an
// append was not atomic; it is fatal and must be surfaced, never
// silently patched.
var ErrIntegrityViolation = errors.New("event sequence integrity violation")

// ValidateBatch checks that a batch is appendable: all events share one
// originator, the first version is non-negative, and versions are
// strictly ascending with no gaps.
//
// An empty batch is not valid here; recorders reject it with their own
// sentinel before validation.
func ValidateBatch(events []StoredEvent) error {
	first := events[0]
	if first.OriginatorVersion < 0 {
		return fmt.Errorf("%w: negative version %d", ErrIntegrityViolation, first.OriginatorVersion)
	}
	for i := range events {
		e := &events[i]
		if e.OriginatorID != first.OriginatorID {
			return fmt.Errorf("event %d: originator ID mismatch", i)
		}
		if e.OriginatorVersion != first.OriginatorVersion+int64(i) {
			return fmt.Errorf("%w: batch versions not contiguous at index %d", ErrIntegrityViolation, i)
		}
	}
	return nil
}

// CheckContiguous verifies that a slice of events read from one stream
// forms a contiguous version sequence in the requested order. Bounds and
// limits trim the range but can never introduce gaps, so any gap or
// duplicate here is backend corruption.
func CheckContiguous(events []StoredEvent, desc bool) error {
	step := int64(1)
	if desc {
		step = -1
	}
	for i := 1; i < len(events); i++ {
		if events[i].OriginatorVersion != events[i-1].OriginatorVersion+step {
			return fmt.Errorf("%w: versions %d and %d adjacent in read",
				ErrIntegrityViolation,
				events[i-1].OriginatorVersion,
				events[i].OriginatorVersion)
		}
	}
	return nil
}
