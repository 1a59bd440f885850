// Package indextable provides an in-process, generic row container backed
// by any number of independently maintained indexes: a hash index, an
// ordered B-tree index, and an insertion-order index, all from the
// indextable/index subpackage.
package indextable

import "indextable/index"

// Table coordinates a dense row arena with a fixed, ordered list of
// indexes over it. Every mutating operation keeps all indexes consistent
// with row storage; a failed multi-index insert rolls back cleanly rather
// than leaving some indexes registered and others not.
type Table[T any] struct {
	rows    rowStorage[T]
	indexes []index.Coordinator[T]
}

// New creates a Table backed by the given indexes, in the order given.
// Position matters: FindAt, FindOrCreateAt, EraseMatchAt, and EraseAllAt
// all address an index by its position in this list.
func New[T any](indexes ...index.Coordinator[T]) *Table[T] {
	return &Table[T]{indexes: indexes}
}

// Len returns the number of rows currently stored.
func (t *Table[T]) Len() int { return t.rows.len() }

// At returns the row currently at ref. The caller must not have erased or
// otherwise invalidated ref since it was obtained.
func (t *Table[T]) At(ref RowRef) T { return t.rows.at(uint32(ref)) }

// Insert appends row and registers it with every index. If any index
// already holds a row with a matching key, the insert is rolled back
// entirely — every index that had already accepted row is told to erase
// it, row storage is popped back to its prior length, and a
// *DuplicateRowError naming the rejecting index and its existing row is
// returned. Table state after a failed Insert is identical to before it.
func (t *Table[T]) Insert(row T) (RowRef, error) {
	n := t.rows.append(row)
	for i, idx := range t.indexes {
		if existing, inserted := idx.Insert(t.rows.rows, n); !inserted {
			for j := i - 1; j >= 0; j-- {
				t.indexes[j].Erase(t.rows.rows, n)
			}
			t.rows.pop()
			return 0, &DuplicateRowError{IndexPos: i, Existing: RowRef(existing)}
		}
	}
	return RowRef(n), nil
}

// FindAt looks up probe in the index at pos.
func (t *Table[T]) FindAt(pos int, probe any) (RowRef, T, bool) {
	n, found := t.indexes[pos].Find(t.rows.rows, probe)
	if !found {
		var zero T
		return 0, zero, false
	}
	return RowRef(n), t.rows.at(n), true
}

// Find looks up probe in the first (position 0) index.
func (t *Table[T]) Find(probe any) (RowRef, T, bool) { return t.FindAt(0, probe) }

// FindOrCreateAt returns the existing row matching probe in the index at
// pos, or inserts a freshly built row (via create) and returns that.
// created reports which case happened.
func (t *Table[T]) FindOrCreateAt(pos int, probe any, create func() T) (ref RowRef, row T, created bool, err error) {
	if ref, row, found := t.FindAt(pos, probe); found {
		return ref, row, false, nil
	}
	ref, err = t.Insert(create())
	if err != nil {
		var zero T
		return 0, zero, false, err
	}
	return ref, t.At(ref), true, nil
}

// FindOrCreate is FindOrCreateAt against index position 0.
func (t *Table[T]) FindOrCreate(probe any, create func() T) (RowRef, T, bool, error) {
	return t.FindOrCreateAt(0, probe, create)
}

// Upsert attempts to insert incoming. If that succeeds, Upsert reports the
// new ref and created=true. If any index rejects it as a duplicate — on
// whichever index detects the collision, not just a caller-named one —
// merge is called with a pointer into live row storage for the existing
// row and incoming, so it can fold incoming's data into the existing row
// in place, and Upsert reports the existing ref and created=false. A
// collision never reaches the caller as a bare error — it is always
// converted into a merge callback invocation.
func (t *Table[T]) Upsert(incoming T, merge func(existing *T, incoming T)) (RowRef, bool, error) {
	ref, err := t.Insert(incoming)
	if err == nil {
		return ref, true, nil
	}
	dup, ok := err.(*DuplicateRowError)
	if !ok {
		return 0, false, err
	}
	merge(t.rows.ptr(uint32(dup.Existing)), incoming)
	return dup.Existing, false, nil
}

// Erase removes the row named by ref from every index and from row
// storage. Erasing the last row is O(1); erasing any other row relocates
// the last row into ref's slot and updates every index accordingly, so
// any RowRef the caller holds for the relocated row becomes stale — its
// row now lives at ref.
func (t *Table[T]) Erase(ref RowRef) {
	n := uint32(ref)
	for _, idx := range t.indexes {
		idx.Erase(t.rows.rows, n)
	}
	relocated, moved := t.rows.swapErase(n)
	if moved {
		for _, idx := range t.indexes {
			idx.Move(t.rows.rows, relocated, n)
		}
	}
}

// EraseMatchAt erases the row matching probe in the index at pos, if any,
// and reports whether a row was removed.
func (t *Table[T]) EraseMatchAt(pos int, probe any) bool {
	ref, _, found := t.FindAt(pos, probe)
	if !found {
		return false
	}
	t.Erase(ref)
	return true
}

// EraseMatch is EraseMatchAt against index position 0.
func (t *Table[T]) EraseMatch(probe any) bool { return t.EraseMatchAt(0, probe) }

// EraseAllAt repeatedly erases the row matching probe in the index at pos
// until none remains, returning the count removed. Useful when probe
// identifies a class of rows one at a time rather than a single unique key
// (each erase can expose a next match if the underlying index tolerates
// duplicates by way of a coarser Matches).
func (t *Table[T]) EraseAllAt(pos int, probe any) int {
	count := 0
	for t.EraseMatchAt(pos, probe) {
		count++
	}
	return count
}

// EraseAll erases every row for which predicate reports true, walking row
// storage directly rather than going through any index's Matches. This is
// the only way to express an open-ended predicate over row content (e.g.
// "every row where age > 30") that no single index's key-based Matches
// could answer. Because Erase swap-erases the last row into the freed
// slot, a row newly relocated into slot n must itself be re-examined
// before advancing past it.
func (t *Table[T]) EraseAll(predicate func(T) bool) int {
	count := 0
	n := uint32(0)
	for n < uint32(t.rows.len()) {
		if predicate(t.rows.at(n)) {
			t.Erase(RowRef(n))
			count++
			continue
		}
		n++
	}
	return count
}

// Clear discards all rows from storage and every index.
func (t *Table[T]) Clear() {
	t.rows.clear()
	for _, idx := range t.indexes {
		idx.Clear()
	}
}

// Reserve pre-sizes row storage for n total rows, avoiding reallocation
// during a known-size batch of inserts.
func (t *Table[T]) Reserve(n int) {
	t.rows.reserve(n)
}

// InsertAll reserves room for len(rows) additional rows and inserts each
// in turn, returning their refs in order. It stops at the first duplicate
// and returns the refs inserted so far alongside the error; each
// individual Insert is still fully rolled back on its own failure, but
// InsertAll itself does not undo the rows it already committed before
// that point.
func (t *Table[T]) InsertAll(rows []T) ([]RowRef, error) {
	t.Reserve(t.rows.len() + len(rows))
	refs := make([]RowRef, 0, len(rows))
	for _, row := range rows {
		ref, err := t.Insert(row)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Scan returns every row in row-storage order — the order rows actually
// occupy their slots in, which is what a swap-erase visibly reorders,
// unlike the index-driven Forward/Backward/Range/Seek accessors below.
func (t *Table[T]) Scan() index.Iterator[T] {
	ns := make([]uint32, t.rows.len())
	for i := range ns {
		ns[i] = uint32(i)
	}
	return index.NewRowIterator(t.rows.rows, ns)
}

// Forward returns every row in ascending order according to the first
// index that implements index.Ordered[T], or an empty iterator if none do.
func (t *Table[T]) Forward() index.Iterator[T] {
	if ord, ok := t.orderedAt(); ok {
		return ord.Forward(t.rows.rows)
	}
	return index.Empty[T]()
}

// Backward is Forward in reverse order.
func (t *Table[T]) Backward() index.Iterator[T] {
	if ord, ok := t.orderedAt(); ok {
		return ord.Backward(t.rows.rows)
	}
	return index.Empty[T]()
}

// Range returns rows with key in [lower, upper) from the first index that
// implements index.Ranged[T], or an empty iterator if none do.
func (t *Table[T]) Range(lower, upper any) index.Iterator[T] {
	if r, ok := t.rangedAt(); ok {
		return r.Range(t.rows.rows, lower, upper)
	}
	return index.Empty[T]()
}

// Seek returns rows with key >= probe from the first index that implements
// index.Ranged[T], or an empty iterator if none do.
func (t *Table[T]) Seek(probe any) index.Iterator[T] {
	if r, ok := t.rangedAt(); ok {
		return r.Seek(t.rows.rows, probe)
	}
	return index.Empty[T]()
}

func (t *Table[T]) orderedAt() (index.Ordered[T], bool) {
	for _, idx := range t.indexes {
		if ord, ok := idx.(index.Ordered[T]); ok {
			return ord, true
		}
	}
	return nil, false
}

func (t *Table[T]) rangedAt() (index.Ranged[T], bool) {
	for _, idx := range t.indexes {
		if r, ok := idx.(index.Ranged[T]); ok {
			return r, true
		}
	}
	return nil, false
}
