// Package engine implements the OBLIVION orchestrator described in
// spec.md §4.7: the single owner of a WAL, a MemTable, a TTL index, and
// the on-disk set of SSTables for one data directory, wiring the other
// packages together into Put/Get/Delete/Scan.
package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/compaction"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/config"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/oberr"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/obslog"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/sstable"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/ttl"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/wal"
)

var sstableNameRE = regexp.MustCompile(`^sstable_(\d{6,})\.sst$`)

// Engine is the exclusive owner of one data directory for its lifetime
// (spec.md §5): nothing outside it touches the WAL, MemTable, TTL index,
// or SSTable files directly.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	instanceID uuid.UUID
	lock       *flock.Flock

	walPath string
	w       *wal.WAL
	mem     *memtable.MemTable
	ttlIdx  *ttl.Index

	sstDir string
	// sstMu guards sstables: application calls (Put/Get/...) are assumed
	// single-threaded per spec.md §5, but background compaction runs
	// concurrently with them, so the slice itself needs protection.
	sstMu       sync.Mutex
	sstables    []*sstable.Table // sorted ascending by ID (oldest first)
	compacting  map[uint64]bool  // table IDs currently being merged by an in-flight background compaction
	nextFlushID uint64
	flushCount  int

	bg     errgroup.Group
	closed bool
}

// EngineInfo is a point-in-time summary of an open Engine, surfaced by
// Info() for operators and the REPL's "info" command.
type EngineInfo struct {
	InstanceID      string
	DataDir         string
	MemtableEntries int
	MemtableSize    string
	SSTableCount    int
	FlushCount      int
	TTLEntries      int
}

// Open opens (or creates) the data directory named by cfg, replaying the
// WAL into a fresh MemTable and enumerating existing SSTables, per the
// open protocol in spec.md §4.7.
func Open(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	log := obslog.For("engine")

	lockPath := filepath.Join(cfg.DataDir, "LOCK")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, oberr.Wrapf(oberr.KindIO, err, "locking data dir %q", cfg.DataDir)
	}
	if !locked {
		return nil, oberr.New(oberr.KindIO, "data dir is already locked by another engine instance")
	}

	sstDir := filepath.Join(cfg.DataDir, "sstables")
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, oberr.Wrapf(oberr.KindIO, err, "creating sstable dir %q", sstDir)
	}
	if err := cleanupTmpFiles(sstDir); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	walPath := filepath.Join(cfg.DataDir, "oblivion.wal")
	mem, err := wal.Recover(walPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	tables, nextID, err := loadSSTables(sstDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	w, err := wal.Open(walPath, cfg.SyncWrites)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		instanceID:  uuid.New(),
		lock:        lock,
		walPath:     walPath,
		w:           w,
		mem:         mem,
		ttlIdx:      ttl.New(),
		sstDir:      sstDir,
		sstables:    tables,
		compacting:  make(map[uint64]bool),
		nextFlushID: nextID,
	}

	log.Info().
		Str("instance_id", e.instanceID.String()).
		Str("data_dir", cfg.DataDir).
		Int("recovered_entries", mem.Len()).
		Int("sstables", len(tables)).
		Msg("engine opened")

	return e, nil
}

// Put durably records key=value, flushing the MemTable and triggering
// compaction if thresholds are crossed.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return oberr.New(oberr.KindConfig, "key must not be empty")
	}
	if e.closed {
		return oberr.New(oberr.KindIO, "engine is closed")
	}
	if err := e.w.AppendPut(key, value); err != nil {
		return err
	}
	e.mem.Insert(key, value)
	e.ttlIdx.RemoveTTL(key)
	return e.maybeFlush()
}

// PutWithTTL is Put plus an expiration ttlMs milliseconds from now.
func (e *Engine) PutWithTTL(key, value []byte, ttlMs uint64) error {
	if err := e.Put(key, value); err != nil {
		return err
	}
	e.ttlIdx.SetTTL(key, ttlMs)
	return nil
}

// Delete durably tombstones key.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return oberr.New(oberr.KindConfig, "key must not be empty")
	}
	if e.closed {
		return oberr.New(oberr.KindIO, "engine is closed")
	}
	if err := e.w.AppendDelete(key); err != nil {
		return err
	}
	e.mem.Delete(key)
	e.ttlIdx.RemoveTTL(key)
	return e.maybeFlush()
}

// Get returns the live value for key. ok is false when the key was never
// written, was deleted, or has lazily expired (spec.md §4.6, §4.7).
func (e *Engine) Get(key []byte) (value []byte, ok bool, err error) {
	if e.closed {
		return nil, false, oberr.New(oberr.KindIO, "engine is closed")
	}

	v, tombstone, found := e.mem.Lookup(key)
	if found {
		if tombstone {
			return nil, false, nil
		}
		if e.ttlIdx.IsExpired(key) {
			return nil, false, nil
		}
		return v, true, nil
	}

	e.sstMu.Lock()
	tables := append([]*sstable.Table(nil), e.sstables...)
	e.sstMu.Unlock()

	for i := len(tables) - 1; i >= 0; i-- {
		tbl := tables[i]
		if !tbl.MaybeContains(key) {
			continue
		}
		val, tombstone, found, lerr := tbl.Lookup(key)
		if lerr != nil {
			return nil, false, lerr
		}
		if !found {
			continue // bloom false positive
		}
		if tombstone {
			return nil, false, nil
		}
		if e.ttlIdx.IsExpired(key) {
			return nil, false, nil
		}
		return val, true, nil
	}

	return nil, false, nil
}

// Scan returns every live (key, value) pair with key in the half-open
// range [start, end), newest write wins, ascending order. A nil start or
// end leaves that side of the range unbounded.
func (e *Engine) Scan(start, end []byte) ([]memtable.Entry, error) {
	if e.closed {
		return nil, oberr.New(oberr.KindIO, "engine is closed")
	}

	e.sstMu.Lock()
	tables := append([]*sstable.Table(nil), e.sstables...)
	e.sstMu.Unlock()

	combined := make(map[string]memtable.Entry)
	for _, tbl := range tables {
		entries, err := tbl.ScanAll()
		if err != nil {
			return nil, err
		}
		for _, ent := range entries {
			if start != nil && bytes.Compare(ent.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(ent.Key, end) >= 0 {
				continue
			}
			combined[string(ent.Key)] = ent
		}
	}
	for _, ent := range e.mem.ScanRangeAll(start, end) {
		combined[string(ent.Key)] = ent
	}

	out := make([]memtable.Entry, 0, len(combined))
	for _, ent := range combined {
		if ent.Tombstone {
			continue
		}
		if e.ttlIdx.IsExpired(ent.Key) {
			continue
		}
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// Ttl returns the milliseconds remaining before key expires. found is
// false when key has no TTL entry.
func (e *Engine) Ttl(key []byte) (remainingMs uint64, found bool) {
	return e.ttlIdx.RemainingTTL(key)
}

// PurgeExpired tombstones every key whose TTL has passed and clears its
// TTL entry, returning how many were purged.
func (e *Engine) PurgeExpired() (int, error) {
	expired := e.ttlIdx.CollectExpired()
	for _, key := range expired {
		if err := e.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Len returns the number of entries (live and tombstoned) in the active
// MemTable.
func (e *Engine) Len() int { return e.mem.Len() }

// MemtableSize returns the active MemTable's approximate byte footprint.
func (e *Engine) MemtableSize() int { return e.mem.Size() }

// SSTableCount returns how many SSTable files currently back the engine.
func (e *Engine) SSTableCount() int {
	e.sstMu.Lock()
	defer e.sstMu.Unlock()
	return len(e.sstables)
}

// FlushCount returns how many flushes have happened since Open.
func (e *Engine) FlushCount() int { return e.flushCount }

// Info summarizes the engine's current state.
func (e *Engine) Info() EngineInfo {
	return EngineInfo{
		InstanceID:      e.instanceID.String(),
		DataDir:         e.cfg.DataDir,
		MemtableEntries: e.mem.Len(),
		MemtableSize:    humanize.Bytes(uint64(e.mem.Size())),
		SSTableCount:    e.SSTableCount(),
		FlushCount:      e.flushCount,
		TTLEntries:      e.ttlIdx.Len(),
	}
}

// Close waits for any in-flight background compaction, closes the WAL,
// and releases the data directory lock.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.bg.Wait(); err != nil {
		e.log.Error().Err(err).Msg("background compaction failed before close")
	}
	if err := e.w.Close(); err != nil {
		return err
	}
	if err := e.lock.Unlock(); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "releasing data dir lock")
	}
	return nil
}

// maybeFlush flushes the MemTable to a new SSTable once it reaches
// cfg.MemtableMaxSize, following the mandatory order from spec.md §4.7:
// SSTable fsync, then WAL truncate, then MemTable clear.
func (e *Engine) maybeFlush() error {
	if e.mem.Size() < e.cfg.MemtableMaxSize {
		return nil
	}

	immutable := e.mem
	keys := immutable.KeysSorted()

	id := e.nextFlushID
	e.nextFlushID++
	path := filepath.Join(e.sstDir, sstable.FormatFilename(id))

	tbl, err := sstable.FlushFromMemTable(path, id, keys, immutable, e.cfg.BloomFPR, sstable.DefaultIndexEveryN)
	if err != nil {
		e.nextFlushID--
		return err
	}

	if err := e.w.Truncate(); err != nil {
		return err
	}
	e.mem = memtable.New()

	e.sstMu.Lock()
	e.sstables = append(e.sstables, tbl)
	e.sstMu.Unlock()
	e.flushCount++

	e.log.Info().
		Uint64("flush_id", id).
		Int("entries", len(keys)).
		Str("size", humanize.Bytes(tbl.SizeBytes)).
		Msg("flushed memtable to sstable")

	e.maybeCompact()
	return nil
}

// maybeCompact checks every tier for a compaction trigger and, if one
// qualifies, runs the merge in the background via the errgroup so Put
// and Delete don't block on it; the resulting table is only published
// once it's durably on disk (spec.md §4.5's atomic replacement protocol).
func (e *Engine) maybeCompact() {
	e.sstMu.Lock()
	snapshot := make([]*sstable.Table, 0, len(e.sstables))
	for _, t := range e.sstables {
		if e.compacting[t.ID] {
			continue
		}
		snapshot = append(snapshot, t)
	}
	e.sstMu.Unlock()

	_, inputs, ok := compaction.SelectCompaction(snapshot, uint64(e.cfg.Tier0Bytes), e.cfg.SizeRatio, e.cfg.CompactionThreshold)
	if !ok {
		return
	}

	outID := e.nextFlushID
	e.nextFlushID++

	inputsCopy := append([]*sstable.Table(nil), inputs...)
	e.sstMu.Lock()
	for _, t := range inputsCopy {
		e.compacting[t.ID] = true
	}
	e.sstMu.Unlock()

	e.bg.Go(func() error {
		return e.runCompaction(inputsCopy, outID)
	})
}

func (e *Engine) runCompaction(inputs []*sstable.Table, outID uint64) error {
	defer func() {
		e.sstMu.Lock()
		for _, t := range inputs {
			delete(e.compacting, t.ID)
		}
		e.sstMu.Unlock()
	}()

	newTbl, err := compaction.Run(e.sstDir, inputs, outID, e.cfg.BloomFPR, sstable.DefaultIndexEveryN)
	if err != nil {
		e.log.Error().Err(err).Msg("compaction failed")
		return err
	}
	if newTbl == nil {
		return nil
	}

	inputByID := make(map[uint64]bool, len(inputs))
	for _, t := range inputs {
		inputByID[t.ID] = true
	}

	e.sstMu.Lock()
	merged := make([]*sstable.Table, 0, len(e.sstables)-len(inputs)+1)
	for _, t := range e.sstables {
		if !inputByID[t.ID] {
			merged = append(merged, t)
		}
	}
	merged = append(merged, newTbl)
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	e.sstables = merged
	e.sstMu.Unlock()

	for _, t := range inputs {
		if rerr := os.Remove(t.Path); rerr != nil && !os.IsNotExist(rerr) {
			e.log.Warn().Err(rerr).Str("path", t.Path).Msg("failed to remove compacted input")
		}
	}

	e.log.Info().
		Int("inputs", len(inputs)).
		Uint64("output_id", newTbl.ID).
		Msg("compaction complete")
	return nil
}

func loadSSTables(dir string) ([]*sstable.Table, uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, 1, oberr.Wrapf(oberr.KindIO, err, "reading sstable dir %q", dir)
	}

	type pair struct {
		id   uint64
		path string
	}
	var pairs []pair
	var maxID uint64
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		m := sstableNameRE.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		id, perr := strconv.ParseUint(m[1], 10, 64)
		if perr != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
		pairs = append(pairs, pair{id: id, path: filepath.Join(dir, ent.Name())})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	tables := make([]*sstable.Table, 0, len(pairs))
	for _, p := range pairs {
		t, err := sstable.Open(p.path, p.id)
		if err != nil {
			return nil, 1, err
		}
		tables = append(tables, t)
	}
	return tables, maxID + 1, nil
}

func cleanupTmpFiles(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return oberr.Wrapf(oberr.KindIO, err, "reading sstable dir %q", dir)
	}
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		if filepath.Ext(ent.Name()) == ".tmp" || len(ent.Name()) > 0 && ent.Name()[0] == '.' && filepath.Ext(ent.Name()) != ".sst" {
			_ = os.Remove(filepath.Join(dir, ent.Name()))
		}
	}
	return nil
}
