package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oblivion.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.AppendPut([]byte("name"), []byte("oblivion")); err != nil {
		t.Fatalf("AppendPut() error = %v", err)
	}
	if err := w.AppendPut([]byte("ephemeral"), []byte("data")); err != nil {
		t.Fatalf("AppendPut() error = %v", err)
	}
	if err := w.AppendDelete([]byte("ephemeral")); err != nil {
		t.Fatalf("AppendDelete() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mt, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	v, ok := mt.Get([]byte("name"))
	if !ok || string(v) != "oblivion" {
		t.Fatalf("Get(name) = %q, %v; want oblivion, true", v, ok)
	}
	if _, ok := mt.Get([]byte("ephemeral")); ok {
		t.Fatalf("Get(ephemeral) should be not-found after delete")
	}
}

func TestRecoverMissingFileYieldsEmpty(t *testing.T) {
	mt, err := Recover(filepath.Join(t.TempDir(), "absent.wal"))
	if err != nil {
		t.Fatalf("Recover() on missing file error = %v", err)
	}
	if !mt.IsEmpty() {
		t.Fatalf("Recover() on missing file should yield an empty MemTable")
	}
}

// TestRecoverStopsAtTornTail is scenario S4 from spec.md §8: a record
// whose tail was never fully flushed to disk must not corrupt recovery,
// and every record before it must still replay.
func TestRecoverStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oblivion.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.AppendPut([]byte("persistent_key"), []byte("persistent_value")); err != nil {
		t.Fatalf("AppendPut() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening wal for torn-tail append: %v", err)
	}
	// A well-formed op_type/key_len/key prefix with no val_len, crc, or
	// value bytes following it: a write that was cut off mid-record.
	if _, err := f.Write([]byte{byte(OpPut), 3, 0, 0, 0, 'f', 'o', 'o'}); err != nil {
		t.Fatalf("writing torn tail: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing wal: %v", err)
	}

	mt, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover() over a torn tail should not error, got %v", err)
	}
	v, ok := mt.Get([]byte("persistent_key"))
	if !ok || string(v) != "persistent_value" {
		t.Fatalf("Get(persistent_key) = %q, %v; want persistent_value, true", v, ok)
	}
	if mt.ContainsKey([]byte("foo")) {
		t.Fatalf("torn record must not be replayed")
	}
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oblivion.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.AppendPut([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("AppendPut() error = %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if err := w.AppendPut([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("AppendPut() after Truncate() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mt, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if mt.ContainsKey([]byte("k")) {
		t.Fatalf("Truncate() should have discarded the pre-truncate record")
	}
	if _, ok := mt.Get([]byte("k2")); !ok {
		t.Fatalf("post-truncate record should still replay")
	}
}
