package indextable

import "fmt"

// DuplicateRowError is returned when an insert would collide with an
// existing row's key in one of the table's indexes.
type DuplicateRowError struct {
	IndexPos int
	Existing RowRef
}

func (e *DuplicateRowError) Error() string {
	return fmt.Sprintf("row with matching key already exists in index %d (row %d)", e.IndexPos, e.Existing)
}

// InvariantViolationError signals corrupted internal state detected by a
// consistency check. It indicates a bug, not a caller error. Nothing in
// this package returns or panics with it: TreeIndex.Verify and the
// occupancy preconditions panic with the index package's own
// index.InvariantViolationError, which has the same shape.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// NotFoundError describes a probe that matched no row. No operation in
// this package returns it: Find, FindAt, EraseMatch and the other lookups
// report absence through their boolean result.
type NotFoundError struct {
	Probe any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no row found matching %v", e.Probe)
}
