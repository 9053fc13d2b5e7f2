package store

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateDay is returned when an attendance record already exists
	// for the (identity, day) pair. Enforced by the storage layer in
	// addition to the in-process lock.
	ErrDuplicateDay = errors.New("attendance record already exists for this day")

	// ErrNotOpen is returned when a check-out is attempted against a record
	// that is not in pending-checkout state (already closed by a concurrent
	// caller, or never opened).
	ErrNotOpen = errors.New("attendance record is not open")

	// ErrIdentityReferenced is returned when deleting an identity that still
	// owns templates or attendance records.
	ErrIdentityReferenced = errors.New("identity still referenced by templates or attendance records")
)
