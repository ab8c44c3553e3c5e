package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
)

func corruptTrailer(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("opening sstable to corrupt: %v", err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		t.Fatalf("stat sstable: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, st.Size()-1); err != nil {
		t.Fatalf("corrupting sstable trailer: %v", err)
	}
}

func buildTable(t *testing.T, entries []memtable.Entry) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), FormatFilename(1))
	tbl, err := WriteEntries(path, 1, entries, 0.01, 4)
	if err != nil {
		t.Fatalf("WriteEntries() error = %v", err)
	}
	return tbl
}

func TestWriteAndLookup(t *testing.T) {
	entries := []memtable.Entry{
		{Key: []byte("alpha"), Value: []byte("1")},
		{Key: []byte("bravo"), Value: []byte("2")},
		{Key: []byte("charlie"), Tombstone: true},
	}
	tbl := buildTable(t, entries)

	v, tomb, found, err := tbl.Lookup([]byte("alpha"))
	if err != nil || !found || tomb || string(v) != "1" {
		t.Fatalf("Lookup(alpha) = %q, tomb=%v, found=%v, err=%v; want 1, false, true, nil", v, tomb, found, err)
	}

	_, tomb, found, err = tbl.Lookup([]byte("charlie"))
	if err != nil || !found || !tomb {
		t.Fatalf("Lookup(charlie) = tomb=%v, found=%v, err=%v; want true, true, nil", tomb, found, err)
	}

	_, _, found, err = tbl.Lookup([]byte("nope"))
	if err != nil || found {
		t.Fatalf("Lookup(nope) = found=%v, err=%v; want false, nil", found, err)
	}
}

func TestEmptyValueDistinctFromTombstone(t *testing.T) {
	entries := []memtable.Entry{
		{Key: []byte("empty"), Value: []byte{}},
		{Key: []byte("deleted"), Tombstone: true},
	}
	tbl := buildTable(t, entries)

	v, tomb, found, err := tbl.Lookup([]byte("empty"))
	if err != nil || !found || tomb || len(v) != 0 {
		t.Fatalf("Lookup(empty) = %q, tomb=%v, found=%v; want empty live value, not a tombstone", v, tomb, found)
	}

	_, tomb, found, err = tbl.Lookup([]byte("deleted"))
	if err != nil || !found || !tomb {
		t.Fatalf("Lookup(deleted) = tomb=%v, found=%v; want tombstone", tomb, found)
	}
}

func TestScanExcludesTombstones(t *testing.T) {
	entries := []memtable.Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Tombstone: true},
		{Key: []byte("c"), Value: []byte("3")},
	}
	tbl := buildTable(t, entries)

	got, err := tbl.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(got) != 2 || string(got[0].Key) != "a" || string(got[1].Key) != "c" {
		t.Fatalf("Scan() = %v; want [a c]", got)
	}
}

func TestBloomIncludesTombstonedKeys(t *testing.T) {
	entries := []memtable.Entry{
		{Key: []byte("only-deleted"), Tombstone: true},
	}
	tbl := buildTable(t, entries)

	// A table whose only entry for a key is a tombstone must still report
	// MaybeContains == true for it, or Engine.Get's bloom-skip would let an
	// older table's live value resurface (spec.md §8 property 5).
	if !tbl.MaybeContains([]byte("only-deleted")) {
		t.Fatalf("MaybeContains(only-deleted) = false; tombstoned keys must stay in the bloom filter")
	}
}

func TestOpenRoundTrip(t *testing.T) {
	entries := []memtable.Entry{
		{Key: []byte("alpha"), Value: []byte("1")},
		{Key: []byte("bravo"), Value: []byte("2")},
	}
	tbl := buildTable(t, entries)

	reopened, err := Open(tbl.Path, tbl.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(reopened.MinKey) != "alpha" || string(reopened.MaxKey) != "bravo" {
		t.Fatalf("Open() min/max = %q/%q; want alpha/bravo", reopened.MinKey, reopened.MaxKey)
	}
	v, _, found, err := reopened.Lookup([]byte("bravo"))
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("Lookup(bravo) after reopen = %q, found=%v, err=%v", v, found, err)
	}
}

func TestOpenDetectsCorruption(t *testing.T) {
	entries := []memtable.Entry{{Key: []byte("a"), Value: []byte("1")}}
	tbl := buildTable(t, entries)

	// Overwrite the file's last byte, part of the stored CRC trailer, so the
	// trailer no longer matches the body.
	corruptTrailer(t, tbl.Path)

	if _, err := Open(tbl.Path, tbl.ID); err == nil {
		t.Fatalf("Open() on a corrupted sstable should fail")
	}
}
