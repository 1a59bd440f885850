package index

import "fmt"

// InvariantViolationError signals that a structural consistency check
// (TreeIndex.Verify, an occupancy-predicate precondition) found the
// internal state of an index corrupted. It is only ever wrapped in a
// panic — this indicates a bug in this package, not a caller error.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}
