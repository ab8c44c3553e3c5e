// Package compaction implements the size-tiered compaction strategy
// described in spec.md §4.5: tables are grouped into tiers by size (tier 0
// is [0, Tier0Bytes), each following tier SizeRatio times wider), and the
// first tier whose table count reaches Threshold is merged oldest-to-newest
// into one replacement table, with tombstones dropped and the newest
// writer winning any key collision.
package compaction

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/obslog"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/sstable"
)

// TierIndex returns which tier a table of sizeBytes falls into: tier 0 is
// [0, tier0Bytes), tier n is [tier0Bytes*ratio^(n-1), tier0Bytes*ratio^n).
func TierIndex(sizeBytes uint64, tier0Bytes uint64, sizeRatio int) int {
	if tier0Bytes == 0 {
		tier0Bytes = 1
	}
	if sizeRatio < 2 {
		sizeRatio = 2
	}
	if sizeBytes < tier0Bytes {
		return 0
	}
	tier := 0
	bound := tier0Bytes
	for sizeBytes >= bound {
		tier++
		bound *= uint64(sizeRatio)
	}
	return tier
}

// SelectCompaction groups tables by tier and returns the tables of the
// lowest-numbered tier whose count has reached threshold, oldest-first by
// ID. ok is false when no tier qualifies.
func SelectCompaction(tables []*sstable.Table, tier0Bytes uint64, sizeRatio int, threshold int) (tier int, inputs []*sstable.Table, ok bool) {
	if threshold < 1 {
		threshold = 1
	}
	byTier := make(map[int][]*sstable.Table)
	for _, t := range tables {
		ti := TierIndex(t.SizeBytes, tier0Bytes, sizeRatio)
		byTier[ti] = append(byTier[ti], t)
	}

	maxTier := 0
	for ti := range byTier {
		if ti > maxTier {
			maxTier = ti
		}
	}
	for ti := 0; ti <= maxTier; ti++ {
		group := byTier[ti]
		if len(group) >= threshold {
			sortByID(group)
			return ti, group, true
		}
	}
	return 0, nil, false
}

func sortByID(tables []*sstable.Table) {
	for i := 1; i < len(tables); i++ {
		for j := i; j > 0 && tables[j-1].ID > tables[j].ID; j-- {
			tables[j-1], tables[j] = tables[j], tables[j-1]
		}
	}
}

// Run merges inputs (oldest-to-newest by ID) into a single new SSTable
// written to dir with outputID, dropping tombstones and letting the
// highest-ID table win any key collision. On success the new table has
// already been fsynced; the caller is responsible for publishing it and
// removing the old files (spec.md §4.5's atomic replacement protocol).
func Run(dir string, inputs []*sstable.Table, outputID uint64, bloomFPR float64, indexEveryN int) (*sstable.Table, error) {
	log := obslog.For("compaction")
	if len(inputs) == 0 {
		return nil, nil
	}

	iters := make([]*tableIter, 0, len(inputs))
	for _, t := range inputs {
		entries, err := t.ScanAll()
		if err != nil {
			return nil, err
		}
		iters = append(iters, &tableIter{tableID: t.ID, entries: entries})
	}

	h := &mergeHeap{}
	for _, it := range iters {
		if it.advance() {
			heap.Push(h, it)
		}
	}

	var merged []memtable.Entry
	var curKey []byte
	var best memtable.Entry
	var bestTableID uint64
	have := false

	flushBest := func() {
		if have && !best.Tombstone {
			merged = append(merged, best)
		}
		have = false
	}

	for h.Len() > 0 {
		it := heap.Pop(h).(*tableIter)
		e := it.cur
		if !have || !keyEqual(e.Key, curKey) {
			flushBest()
			curKey = e.Key
			best = e
			bestTableID = it.tableID
			have = true
		} else if it.tableID > bestTableID {
			best = e
			bestTableID = it.tableID
		}

		if it.advance() {
			heap.Push(h, it)
		}
	}
	flushBest()

	outName := sstable.FormatFilename(outputID)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", outName))
	finalPath := filepath.Join(dir, outName)

	if _, err := sstable.WriteEntries(tmpPath, outputID, merged, bloomFPR, indexEveryN); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, err
	}

	log.Info().
		Int("inputs", len(inputs)).
		Int("merged_entries", len(merged)).
		Uint64("output_id", outputID).
		Msg("compaction merged tier")

	return sstable.Open(finalPath, outputID)
}

type tableIter struct {
	tableID uint64
	entries []memtable.Entry
	idx     int
	cur     memtable.Entry
}

func (it *tableIter) advance() bool {
	if it.idx >= len(it.entries) {
		return false
	}
	it.cur = it.entries[it.idx]
	it.idx++
	return true
}

func keyEqual(a, b []byte) bool {
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

type mergeHeap []*tableIter

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return lessBytes(h[i].cur.Key, h[j].cur.Key)
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*tableIter)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func lessBytes(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
