package journal

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no entry exists for the requested sequence.
var ErrNotFound = errors.New("journal: entry not found")

// ErrConflict is returned when the chain tail moved between the tail read and
// the durable write of an append. The store never retries on its own; the
// caller decides retry policy and must re-read the tail first.
var ErrConflict = errors.New("journal: concurrent append conflict")

// ErrPeriodSealed is returned when an append's timestamp falls inside a sealed
// closure period. This is a caller-visible rejection, not a system fault.
var ErrPeriodSealed = errors.New("journal: timestamp falls inside a sealed closure period")

// ErrInvalidDraft is returned when a draft violates the data-model rules.
var ErrInvalidDraft = errors.New("journal: invalid draft")

// StorageError wraps an I/O or durability failure. After a StorageError the
// append's effect is indeterminate: the caller must re-query the tail before
// retrying to avoid duplicating a sequence number.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("journal: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the append after
// re-reading the chain tail.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
