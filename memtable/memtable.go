// Package memtable implements the sorted in-memory write buffer described
// in spec.md §4.2: a mapping from Key to Optional<Value> where the absent
// case is split into "never inserted" (Get returns not-found) and
// "tombstoned" (Get also returns not-found, but ContainsKey reports true).
package memtable

import (
	"bytes"
	"sort"
)

// MemTable is a sorted mapping of Key to Entry, with a running byte
// footprint used to trigger flushes (spec.md §3).
type MemTable struct {
	byKey     map[string]Entry
	sizeBytes int
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{byKey: make(map[string]Entry)}
}

func contribution(e Entry) int {
	if e.Tombstone {
		return len(e.Key)
	}
	return len(e.Key) + len(e.Value)
}

// Insert records a live value for key, replacing any previous entry.
// size() is updated by first subtracting the old entry's contribution (if
// any) and then adding the new one, per spec.md §4.2.
func (m *MemTable) Insert(key, value []byte) {
	k := string(key)
	if old, ok := m.byKey[k]; ok {
		m.sizeBytes -= contribution(old)
	}
	e := Entry{Key: cloneBytes(key), Value: cloneBytes(value)}
	m.byKey[k] = e
	m.sizeBytes += contribution(e)
}

// Delete records a tombstone for key. A tombstone contributes only
// key.len() to size(), per spec.md §3.
func (m *MemTable) Delete(key []byte) {
	k := string(key)
	if old, ok := m.byKey[k]; ok {
		m.sizeBytes -= contribution(old)
	}
	e := Entry{Key: cloneBytes(key), Tombstone: true}
	m.byKey[k] = e
	m.sizeBytes += contribution(e)
}

// Get returns the live value for key. It returns (nil, false) both when
// the key was never inserted and when it is tombstoned — the caller
// cannot distinguish those cases from Get alone (spec.md §4.2).
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	e, ok := m.byKey[string(key)]
	if !ok || e.Tombstone {
		return nil, false
	}
	return cloneBytes(e.Value), true
}

// ContainsKey reports whether key has any entry at all, live or
// tombstoned, unlike Get.
func (m *MemTable) ContainsKey(key []byte) bool {
	_, ok := m.byKey[string(key)]
	return ok
}

// Lookup is the tri-state primitive the Engine's read path needs: found
// reports whether key has any entry; tombstone reports whether that entry
// is a delete marker. It is not part of spec.md's MemTable contract itself,
// but is how Engine.Get (spec.md §4.7) tells "tombstoned, stop here" apart
// from "absent, fall through to the SSTables".
func (m *MemTable) Lookup(key []byte) (value []byte, tombstone bool, found bool) {
	e, ok := m.byKey[string(key)]
	if !ok {
		return nil, false, false
	}
	if e.Tombstone {
		return nil, true, true
	}
	return cloneBytes(e.Value), false, true
}

// Scan returns all live (key, value) pairs in ascending key order,
// excluding tombstones.
func (m *MemTable) Scan() []Entry {
	return m.scanFilter(func([]byte) bool { return true })
}

// ScanRange returns live entries with key in the half-open range
// [start, end).
func (m *MemTable) ScanRange(start, end []byte) []Entry {
	return m.scanFilter(func(k []byte) bool {
		if start != nil && bytes.Compare(k, start) < 0 {
			return false
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			return false
		}
		return true
	})
}

// ScanPrefix returns live entries whose key starts with prefix.
func (m *MemTable) ScanPrefix(prefix []byte) []Entry {
	return m.scanFilter(func(k []byte) bool {
		return bytes.HasPrefix(k, prefix)
	})
}

// ScanRangeAll returns every entry (live or tombstoned) with key in the
// half-open range [start, end), in ascending order. The Engine's Scan uses
// this to let a MemTable tombstone shadow an older SSTable value before
// the tombstone itself is dropped from the final result.
func (m *MemTable) ScanRangeAll(start, end []byte) []Entry {
	out := make([]Entry, 0, len(m.byKey))
	for _, e := range m.byKey {
		if start != nil && bytes.Compare(e.Key, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			continue
		}
		out = append(out, Entry{Key: cloneBytes(e.Key), Value: cloneBytes(e.Value), Tombstone: e.Tombstone})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

func (m *MemTable) scanFilter(keep func(key []byte) bool) []Entry {
	out := make([]Entry, 0, len(m.byKey))
	for _, e := range m.byKey {
		if e.Tombstone || !keep(e.Key) {
			continue
		}
		out = append(out, Entry{Key: cloneBytes(e.Key), Value: cloneBytes(e.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// KeysSorted returns every key present (live or tombstoned) in ascending
// order. The flush path uses this to stream the full MemTable, tombstones
// included, into a new SSTable.
func (m *MemTable) KeysSorted() [][]byte {
	keys := make([][]byte, 0, len(m.byKey))
	for _, e := range m.byKey {
		keys = append(keys, cloneBytes(e.Key))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}

// EntryAt returns the full Entry (value or tombstone) for an exact key,
// for use by callers that already iterated KeysSorted.
func (m *MemTable) EntryAt(key []byte) (Entry, bool) {
	e, ok := m.byKey[string(key)]
	if !ok {
		return Entry{}, false
	}
	e.Key = cloneBytes(e.Key)
	e.Value = cloneBytes(e.Value)
	return e, true
}

// Clear resets the MemTable to empty; size() becomes 0.
func (m *MemTable) Clear() {
	m.byKey = make(map[string]Entry)
	m.sizeBytes = 0
}

// Size returns the approximate live footprint in bytes.
func (m *MemTable) Size() int { return m.sizeBytes }

// Len returns the number of entries (live and tombstoned).
func (m *MemTable) Len() int { return len(m.byKey) }

// IsEmpty reports whether the MemTable holds no entries.
func (m *MemTable) IsEmpty() bool { return len(m.byKey) == 0 }
