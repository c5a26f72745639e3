package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates a stale or unknown change-log token; the
	// caller must re-baseline via GetChangeToken.
	ErrInvalidToken = errors.New("invalid change log token")
	// ErrInternalConsistency marks defects such as a series group with zero
	// rows. It is never caused by bad input.
	ErrInternalConsistency = errors.New("internal consistency fault")
)

// ValidationError rejects a malformed record before anything is written.
// Index is the position of the offending record in the submitted batch, or
// -1 when the error is not batch-scoped.
type ValidationError struct {
	Index  int
	UUID   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid record at index %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid record: %s", e.Reason)
}

// UniquenessConflictError reports a record UUID already owned by a different
// data origin.
type UniquenessConflictError struct {
	UUID   uuid.UUID
	Origin string
}

func (e *UniquenessConflictError) Error() string {
	return fmt.Sprintf("record %s is owned by a different origin than %q", e.UUID, e.Origin)
}

// UnsupportedAggregationError rejects an aggregation request before any
// storage access.
type UnsupportedAggregationError struct {
	Aggregation string
	Reason      string
}

func (e *UnsupportedAggregationError) Error() string {
	return fmt.Sprintf("unsupported aggregation %q: %s", e.Aggregation, e.Reason)
}

// StorageError wraps an underlying transactional failure. The in-flight
// batch is rolled back in full before it surfaces.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
