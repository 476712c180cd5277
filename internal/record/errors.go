package record

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound means no live record resolves for the id or
	// filter at the requested bound.
	ErrRecordNotFound = errors.New("record: not found")

	// ErrRecordNotChanged means an update payload resolved to no diff
	// against current state. It is a rejected no-op, distinct from
	// success: nothing was written.
	ErrRecordNotChanged = errors.New("record: not changed")

	// ErrDuplicateID means an insert collided with an existing id
	// lineage, live or tombstoned. Tombstoned ids are terminal.
	ErrDuplicateID = errors.New("record: duplicate id")

	// ErrVersionConflict means concurrent writers exhausted the version
	// allocation retries. The operation can be retried as a whole.
	ErrVersionConflict = errors.New("record: version conflict")
)

// BulkError reports a bulk operation stopped by a hard per-row failure.
// Rows applied before the failure stay committed; the caller reconciles
// with the applied count and the failing id.
type BulkError struct {
	Applied  int
	FailedID string
	Err      error
}

// Error implements the error interface.
func (e *BulkError) Error() string {
	return fmt.Sprintf("record: bulk stopped at %q after %d applied: %v", e.FailedID, e.Applied, e.Err)
}

// Unwrap exposes the per-row cause for errors.Is/As.
func (e *BulkError) Unwrap() error {
	return e.Err
}
