// Package index provides the index kinds that back an indextable.Table:
// an open-addressed HashIndex, an ordered TreeIndex (B-tree), and an
// InsertionOrderIndex. Each maps some extracted key, or insertion order,
// back to a dense row number; none of them owns row storage itself.
package index

// Callbacks adapts a caller's row type to a single index. KeyForRow
// extracts the value this index keys on; Matches compares a stored row
// against a probe of possibly different type (e.g. an owned key vs. a
// borrowed view into one).
type Callbacks[T any] interface {
	KeyForRow(row T) any
	Matches(row T, probe any) bool
}

// HashCallbacks is the Callbacks contract required by HashIndex.
type HashCallbacks[T any] interface {
	Callbacks[T]
	HashCode(probe any) uint32
}

// TreeCallbacks is the Callbacks contract required by TreeIndex.
type TreeCallbacks[T any] interface {
	Callbacks[T]
	// IsBefore reports whether row's key orders strictly before probe.
	IsBefore(row T, probe any) bool
}

// Coordinator is the capability every index must provide so that a Table
// can fan out insert/erase/move across a declared list of indexes. Find
// takes a probe whose key type is private to the concrete index, so it is
// typed any at this boundary, the same way the teacher's Index interface
// keys Put/Get/Delete by any.
type Coordinator[T any] interface {
	// Insert registers row number n (already present in rows) with this
	// index. If a row with the same key already exists, it returns that
	// row's number and inserted=false; n is NOT registered in that case.
	Insert(rows []T, n uint32) (existing uint32, inserted bool)

	// Find looks up probe and returns the row number, if any.
	Find(rows []T, probe any) (uint32, bool)

	// Erase removes row n's entry. rows[n] must still hold the row being
	// removed; the caller has not yet relocated row storage.
	Erase(rows []T, n uint32)

	// Move updates bookkeeping after row storage relocated the row that
	// used to be at old to be at new. rows[new] already holds the moved
	// row; rows[old] is no longer valid (and may not exist at all, if
	// old was the last row and was simply popped).
	Move(rows []T, old, new uint32)

	// Clear discards all entries.
	Clear()

	// Len returns the number of entries currently registered.
	Len() int
}

// Iterator streams rows in some index-defined order.
type Iterator[T any] interface {
	Next() (T, bool)
	Close() error
}

// Ordered is implemented by indexes that can walk every row they hold in
// a well defined order, forward or backward.
type Ordered[T any] interface {
	Coordinator[T]
	Forward(rows []T) Iterator[T]
	Backward(rows []T) Iterator[T]
}

// Ranged is implemented by indexes whose order is key-based, so that a
// caller can additionally scan a bounded range or seek to a starting key.
type Ranged[T any] interface {
	Ordered[T]
	// Range yields rows with key >= lower and < upper, in key order.
	Range(rows []T, lower, upper any) Iterator[T]
	// Seek yields rows with key >= probe, in key order, to the end.
	Seek(rows []T, probe any) Iterator[T]
}

// emptyIterator is returned when a Table delegates ordered/range/seek to
// an index kind that isn't present among its declared indexes.
type emptyIterator[T any] struct{}

func (emptyIterator[T]) Next() (T, bool) {
	var zero T
	return zero, false
}

func (emptyIterator[T]) Close() error { return nil }

// Empty returns an Iterator that yields nothing.
func Empty[T any]() Iterator[T] {
	return emptyIterator[T]{}
}

// rowIterator streams a precomputed sequence of row numbers back out as
// rows, resolved against the rows slice at construction time. Ordered
// indexes build one of these per Forward/Backward/Range/Seek call rather
// than holding a live cursor into their internal structure, the same way
// the teacher's sliceIterator streams a snapshot taken at scan time.
type rowIterator[T any] struct {
	rows []T
	ns   []uint32
	pos  int
}

// NewRowIterator wraps ns (row numbers, already in the order the caller
// wants them yielded) as an Iterator over rows. Shared by TreeIndex and
// InsertionOrderIndex so both return the same concrete iterator shape.
func NewRowIterator[T any](rows []T, ns []uint32) Iterator[T] {
	return &rowIterator[T]{rows: rows, ns: ns}
}

func (it *rowIterator[T]) Next() (T, bool) {
	if it.pos >= len(it.ns) {
		var zero T
		return zero, false
	}
	row := it.rows[it.ns[it.pos]]
	it.pos++
	return row, true
}

func (it *rowIterator[T]) Close() error { return nil }
