package indextable

import (
	"fmt"
	"testing"

	"indextable/index"

	"github.com/cespare/xxhash/v2"
)

type fullStringCallbacks struct{}

func (fullStringCallbacks) KeyForRow(row string) any { return row }
func (fullStringCallbacks) Matches(row string, probe any) bool { return row == probe.(string) }
func (fullStringCallbacks) HashCode(probe any) uint32 {
	return uint32(xxhash.Sum64String(probe.(string)))
}
func (fullStringCallbacks) IsBefore(row string, probe any) bool { return row < probe.(string) }

// lengthCallbacks keys on a row's length rather than its content, used to
// force a second-index duplicate independent of the first index's key.
type lengthCallbacks struct{}

func (lengthCallbacks) KeyForRow(row string) any { return len(row) }
func (lengthCallbacks) Matches(row string, probe any) bool { return len(row) == probe.(int) }
func (lengthCallbacks) HashCode(probe any) uint32 { return uint32(probe.(int)) }

func drainT(it index.Iterator[string]) []string {
	var out []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	it.Close()
	return out
}

func eqT(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestTable_HashInsertEraseIterate covers the literal insert/erase/iterate
// scenario: insert foo, bar, baz through a single hash index, confirm
// row-storage order is the insertion order, erase foo, and confirm the
// swap-erase relocates baz (the last row) into foo's freed slot 0, leaving
// row-storage order [baz, bar].
func TestTable_HashInsertEraseIterate(t *testing.T) {
	tbl := New[string](index.NewHashIndex[string](fullStringCallbacks{}))

	refs := map[string]RowRef{}
	for _, s := range []string{"foo", "bar", "baz"} {
		ref, err := tbl.Insert(s)
		if err != nil {
			t.Fatalf("Insert(%q): %v", s, err)
		}
		refs[s] = ref
	}

	if got := drainT(tbl.Scan()); !eqT(got, []string{"foo", "bar", "baz"}) {
		t.Fatalf("Scan() = %v, want [foo bar baz]", got)
	}

	tbl.Erase(refs["foo"])

	if got := drainT(tbl.Scan()); !eqT(got, []string{"baz", "bar"}) {
		t.Fatalf("Scan() after erasing foo = %v, want [baz bar]", got)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	if _, _, ok := tbl.Find("foo"); ok {
		t.Fatal("foo still found after Erase")
	}
	if _, _, ok := tbl.Find("bar"); !ok {
		t.Fatal("bar lost after erasing foo")
	}
	if _, _, ok := tbl.Find("baz"); !ok {
		t.Fatal("baz lost after erasing foo")
	}
}

func TestTable_DuplicateInsertRejected(t *testing.T) {
	tbl := New[string](index.NewHashIndex[string](fullStringCallbacks{}))
	if _, err := tbl.Insert("foo"); err != nil {
		t.Fatalf("first Insert(foo): %v", err)
	}
	if _, err := tbl.Insert("foo"); err == nil {
		t.Fatal("duplicate Insert(foo) unexpectedly succeeded")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after rejected duplicate", tbl.Len())
	}
}

// TestTable_RollbackOnSecondIndexDuplicate_Hash pairs a full-string hash
// index with a length-keyed hash index. Inserting a second row whose
// length collides with an existing row's must fail via the second index
// and leave the first index exactly as it was before the attempt.
func TestTable_RollbackOnSecondIndexDuplicate_Hash(t *testing.T) {
	tbl := New[string](
		index.NewHashIndex[string](fullStringCallbacks{}),
		index.NewHashIndex[string](lengthCallbacks{}),
	)

	if _, err := tbl.Insert("foo"); err != nil {
		t.Fatalf("Insert(foo): %v", err)
	}

	if _, err := tbl.Insert("bar"); err == nil {
		t.Fatal("Insert(bar) should fail: same length as foo")
	} else if dup, ok := err.(*DuplicateRowError); !ok || dup.IndexPos != 1 {
		t.Fatalf("err = %v, want *DuplicateRowError at index 1", err)
	}

	if _, _, ok := tbl.Find("bar"); ok {
		t.Fatal("bar should have been rolled back out of the string index")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after rolled-back insert", tbl.Len())
	}

	// A differently-sized string must still insert cleanly afterward.
	if _, err := tbl.Insert("quux"); err != nil {
		t.Fatalf("Insert(quux) after rollback: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
}

// TestTable_RollbackOnSecondIndexDuplicate_Tree is the same scenario with
// the second index ordered instead of hashed.
func TestTable_RollbackOnSecondIndexDuplicate_Tree(t *testing.T) {
	tbl := New[string](
		index.NewHashIndex[string](fullStringCallbacks{}),
		index.NewTreeIndex[string](lengthTreeCallbacks{}),
	)

	if _, err := tbl.Insert("foo"); err != nil {
		t.Fatalf("Insert(foo): %v", err)
	}
	if _, err := tbl.Insert("bar"); err == nil {
		t.Fatal("Insert(bar) should fail: same length as foo")
	}
	if _, _, ok := tbl.Find("bar"); ok {
		t.Fatal("bar should have been rolled back out of the string index")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

type lengthTreeCallbacks struct{}

func (lengthTreeCallbacks) KeyForRow(row string) any       { return len(row) }
func (lengthTreeCallbacks) Matches(row string, probe any) bool { return len(row) == probe.(int) }
func (lengthTreeCallbacks) IsBefore(row string, probe any) bool { return len(row) < probe.(int) }

// TestTable_OrderedRangeSeek exercises Table.Forward/Range/Seek delegating
// to a TreeIndex.
func TestTable_OrderedRangeSeek(t *testing.T) {
	tbl := New[string](index.NewTreeIndex[string](fullTreeCallbacks{}))
	for _, w := range []string{"grault", "foo", "qux", "garply", "bar", "corge", "har"} {
		if _, err := tbl.Insert(w); err != nil {
			t.Fatalf("Insert(%q): %v", w, err)
		}
	}

	want := []string{"bar", "corge", "foo", "garply", "grault", "har", "qux"}
	if got := drainT(tbl.Forward()); !eqT(got, want) {
		t.Fatalf("Forward = %v, want %v", got, want)
	}

	wantRange := []string{"foo", "garply", "grault"}
	if got := drainT(tbl.Range("foo", "har")); !eqT(got, wantRange) {
		t.Fatalf("Range(foo,har) = %v, want %v", got, wantRange)
	}

	wantSeek := []string{"grault", "har", "qux"}
	if got := drainT(tbl.Seek("gorply")); !eqT(got, wantSeek) {
		t.Fatalf("Seek(gorply) = %v, want %v", got, wantSeek)
	}
}

type fullTreeCallbacks struct{}

func (fullTreeCallbacks) KeyForRow(row string) any { return row }
func (fullTreeCallbacks) Matches(row string, probe any) bool { return row == probe.(string) }
func (fullTreeCallbacks) IsBefore(row string, probe any) bool { return row < probe.(string) }

// TestTable_Upsert confirms Upsert mutates an existing row in place via
// the merge callback rather than inserting a duplicate, and still inserts
// fresh rows that have no match.
func TestTable_Upsert(t *testing.T) {
	tbl := New[counterRow](index.NewHashIndex[counterRow](counterCallbacks{}))

	bump := func(key string) RowRef {
		ref, _, err := tbl.Upsert(counterRow{key: key, count: 1}, func(existing *counterRow, incoming counterRow) {
			existing.count += incoming.count
		})
		if err != nil {
			t.Fatalf("Upsert(%q): %v", key, err)
		}
		return ref
	}

	ref := bump("hits")
	bump("hits")
	bump("hits")

	if got := tbl.At(ref); got.count != 3 {
		t.Fatalf("count = %d, want 3", got.count)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

type counterRow struct {
	key   string
	count int
}

type counterCallbacks struct{}

func (counterCallbacks) KeyForRow(row counterRow) any { return row.key }
func (counterCallbacks) Matches(row counterRow, probe any) bool { return row.key == probe.(string) }
func (counterCallbacks) HashCode(probe any) uint32 {
	return uint32(xxhash.Sum64String(probe.(string)))
}

// lengthRecord is a row type with an identity key (key) and a field two
// different indexes can collide on independently (length), used to
// confirm Upsert reacts to a duplicate detected on *any* index, not just
// a caller-named one.
type lengthRecord struct {
	key    string
	length int
	hits   int
}

type recordKeyCallbacks struct{}

func (recordKeyCallbacks) KeyForRow(row lengthRecord) any { return row.key }
func (recordKeyCallbacks) Matches(row lengthRecord, probe any) bool { return row.key == probe.(string) }
func (recordKeyCallbacks) HashCode(probe any) uint32 {
	return uint32(xxhash.Sum64String(probe.(string)))
}

type recordLengthCallbacks struct{}

func (recordLengthCallbacks) KeyForRow(row lengthRecord) any { return row.length }
func (recordLengthCallbacks) Matches(row lengthRecord, probe any) bool {
	return row.length == probe.(int)
}
func (recordLengthCallbacks) HashCode(probe any) uint32 { return uint32(probe.(int)) }

// TestTable_UpsertCollidesOnDifferentIndex reproduces the original's
// two-index rollback scenario (one index on identity, one on length) but
// through Upsert instead of a bare Insert: a row with a brand new key but
// a colliding length must invoke merge against the row the *length* index
// found, not fail with a raw duplicate error.
func TestTable_UpsertCollidesOnDifferentIndex(t *testing.T) {
	tbl := New[lengthRecord](
		index.NewHashIndex[lengthRecord](recordKeyCallbacks{}),
		index.NewHashIndex[lengthRecord](recordLengthCallbacks{}),
	)

	ref, err := tbl.Insert(lengthRecord{key: "foo", length: 3})
	if err != nil {
		t.Fatalf("Insert(foo): %v", err)
	}

	merged := false
	gotRef, created, err := tbl.Upsert(lengthRecord{key: "xyz", length: 3, hits: 1}, func(existing *lengthRecord, incoming lengthRecord) {
		merged = true
		existing.hits += incoming.hits
	})
	if err != nil {
		t.Fatalf("Upsert(xyz): %v", err)
	}
	if created {
		t.Fatal("Upsert(xyz) should have matched foo via the length index, not inserted fresh")
	}
	if !merged {
		t.Fatal("merge callback was not invoked")
	}
	if gotRef != ref {
		t.Fatalf("gotRef = %v, want %v (the original foo row)", gotRef, ref)
	}
	if got := tbl.At(ref); got.key != "foo" || got.hits != 1 {
		t.Fatalf("row at ref = %+v, want key=foo hits=1", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

// TestTable_EraseAllByPredicate confirms EraseAll walks row storage
// directly against an arbitrary predicate, including re-examining a slot
// a swap-erase has just relocated a fresh candidate into.
func TestTable_EraseAllByPredicate(t *testing.T) {
	tbl := New[lengthRecord](index.NewHashIndex[lengthRecord](recordKeyCallbacks{}))
	for _, rec := range []lengthRecord{
		{key: "a", length: 1},
		{key: "bb", length: 2},
		{key: "c", length: 1},
		{key: "dddd", length: 4},
		{key: "e", length: 1},
	} {
		if _, err := tbl.Insert(rec); err != nil {
			t.Fatalf("Insert(%+v): %v", rec, err)
		}
	}

	removed := tbl.EraseAll(func(r lengthRecord) bool { return r.length == 1 })
	if removed != 3 {
		t.Fatalf("EraseAll removed %d, want 3", removed)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	for _, got := range drainLengthRecords(tbl) {
		if got.length == 1 {
			t.Fatalf("row %+v with length 1 survived EraseAll", got)
		}
	}
}

func drainLengthRecords(tbl *Table[lengthRecord]) []lengthRecord {
	var out []lengthRecord
	it := tbl.Scan()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	it.Close()
	return out
}

// TestTable_FindOrCreate confirms repeated calls with the same key return
// the same row without inserting a second copy.
func TestTable_FindOrCreate(t *testing.T) {
	tbl := New[string](index.NewHashIndex[string](fullStringCallbacks{}))

	ref1, row1, created1, err := tbl.FindOrCreate("widget", func() string { return "widget" })
	if err != nil || !created1 || row1 != "widget" {
		t.Fatalf("first FindOrCreate: ref=%v row=%q created=%v err=%v", ref1, row1, created1, err)
	}

	ref2, row2, created2, err := tbl.FindOrCreate("widget", func() string {
		t.Fatal("create should not be called for an existing key")
		return ""
	})
	if err != nil || created2 || row2 != "widget" || ref1 != ref2 {
		t.Fatalf("second FindOrCreate: ref=%v row=%q created=%v err=%v", ref2, row2, created2, err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

// TestTable_StepAndPrimeStress dense-inserts and looks up a step-spaced
// subset of keys, exercising both HashIndex and TreeIndex at Table scale.
func TestTable_StepAndPrimeStress(t *testing.T) {
	steps := []int{1, 2, 4, 7, 43, 127}
	for _, step := range steps {
		tbl := New[string](
			index.NewHashIndex[string](fullStringCallbacks{}),
			index.NewTreeIndex[string](fullTreeCallbacks{}),
		)
		for i := 0; i < 2000; i += step {
			if _, err := tbl.Insert(fmt.Sprintf("row-%06d", i)); err != nil {
				t.Fatalf("step=%d i=%d: %v", step, i, err)
			}
		}
		for i := 0; i < 2000; i += step {
			if _, _, ok := tbl.Find(fmt.Sprintf("row-%06d", i)); !ok {
				t.Fatalf("step=%d i=%d: not found", step, i)
			}
		}
	}
}
