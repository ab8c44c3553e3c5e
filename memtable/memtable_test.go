package memtable

import (
	"bytes"
	"testing"
)

func TestInsertGet(t *testing.T) {
	m := New()
	m.Insert([]byte("k"), []byte("v"))
	v, ok := m.Get([]byte("k"))
	if !ok || string(v) != "v" {
		t.Fatalf("Get(k) = %q, %v; want v, true", v, ok)
	}
}

func TestOverwriteIsIdempotent(t *testing.T) {
	m := New()
	m.Insert([]byte("k"), []byte("old"))
	m.Insert([]byte("k"), []byte("new"))
	v, ok := m.Get([]byte("k"))
	if !ok || string(v) != "new" {
		t.Fatalf("Get(k) = %q, %v; want new, true", v, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", m.Len())
	}
}

func TestDeleteTombstone(t *testing.T) {
	m := New()
	m.Insert([]byte("k"), []byte("v"))
	m.Delete([]byte("k"))
	if _, ok := m.Get([]byte("k")); ok {
		t.Fatalf("Get(k) after Delete should be not-found")
	}
	if !m.ContainsKey([]byte("k")) {
		t.Fatalf("ContainsKey(k) after Delete should be true (tombstoned, not absent)")
	}
}

func TestLookupDistinguishesAbsentFromTombstone(t *testing.T) {
	m := New()
	_, tomb, found := m.Lookup([]byte("never"))
	if found {
		t.Fatalf("Lookup(never) found=true; want false")
	}

	m.Insert([]byte("k"), []byte("v"))
	m.Delete([]byte("k"))
	_, tomb, found = m.Lookup([]byte("k"))
	if !found || !tomb {
		t.Fatalf("Lookup(k) = found=%v tomb=%v; want true, true", found, tomb)
	}
}

func TestSizeAccounting(t *testing.T) {
	m := New()
	m.Insert([]byte("ab"), []byte("cde")) // 2 + 3 = 5
	if m.Size() != 5 {
		t.Fatalf("Size() = %d; want 5", m.Size())
	}
	m.Insert([]byte("ab"), []byte("x")) // replace: 5 - 5 + (2+1) = 3
	if m.Size() != 3 {
		t.Fatalf("Size() after overwrite = %d; want 3", m.Size())
	}
	m.Delete([]byte("ab")) // 3 - 3 + 2 (key only) = 2
	if m.Size() != 2 {
		t.Fatalf("Size() after delete = %d; want 2", m.Size())
	}
}

func TestScanSortedExcludesTombstones(t *testing.T) {
	m := New()
	m.Insert([]byte("charlie"), []byte("3"))
	m.Insert([]byte("alpha"), []byte("1"))
	m.Insert([]byte("bravo"), []byte("2"))
	m.Delete([]byte("charlie"))

	got := m.Scan()
	want := []string{"alpha", "bravo"}
	if len(got) != len(want) {
		t.Fatalf("Scan() returned %d entries; want %d", len(got), len(want))
	}
	for i, e := range got {
		if string(e.Key) != want[i] {
			t.Fatalf("Scan()[%d].Key = %q; want %q", i, e.Key, want[i])
		}
	}
}

func TestScanRangeHalfOpen(t *testing.T) {
	m := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Insert([]byte(k), []byte(k))
	}
	got := m.ScanRange([]byte("b"), []byte("d"))
	if len(got) != 2 || string(got[0].Key) != "b" || string(got[1].Key) != "c" {
		t.Fatalf("ScanRange(b, d) = %v; want [b c]", got)
	}
}

func TestKeysSortedIncludesTombstones(t *testing.T) {
	m := New()
	m.Insert([]byte("b"), []byte("1"))
	m.Insert([]byte("a"), []byte("2"))
	m.Delete([]byte("a"))

	keys := m.KeysSorted()
	if len(keys) != 2 || string(keys[0]) != "a" || string(keys[1]) != "b" {
		t.Fatalf("KeysSorted() = %v; want [a b]", keys)
	}
}

func TestClear(t *testing.T) {
	m := New()
	m.Insert([]byte("k"), []byte("v"))
	m.Clear()
	if !m.IsEmpty() || m.Size() != 0 {
		t.Fatalf("Clear() did not reset MemTable")
	}
}

func TestScanRangeAllIncludesTombstones(t *testing.T) {
	m := New()
	m.Insert([]byte("a"), []byte("1"))
	m.Delete([]byte("b"))

	got := m.ScanRangeAll(nil, nil)
	if len(got) != 2 {
		t.Fatalf("ScanRangeAll returned %d entries; want 2", len(got))
	}
	var sawTombstone bool
	for _, e := range got {
		if bytes.Equal(e.Key, []byte("b")) && e.Tombstone {
			sawTombstone = true
		}
	}
	if !sawTombstone {
		t.Fatalf("ScanRangeAll did not surface the tombstone for b")
	}
}
