// Package sstable implements the immutable on-disk table described in
// spec.md §4.4: written once by flush (or compaction), read many times by
// lookup and scan, requiring no locking once published.
//
// On-disk layout (little-endian):
//
//	Header: magic, version, entry count, offsets to (data, index, bloom)
//	        blocks, and the min/max keys.
//	Data block:  entries in sorted order; [keyLen][key][valLen][value];
//	             valLen == 0xFFFFFFFF is the tombstone sentinel, distinct
//	             from valLen == 0 (a live empty value).
//	Index block: sparse (key, offset) pairs for O(log n) positioning.
//	Bloom block: a serialized bloom.Filter.
//	Trailer:     CRC32 (IEEE) over every preceding byte.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/bloom"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/oberr"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
)

const (
	magic   uint32 = 0x4f424c31 // "OBL1"
	version uint16 = 1

	tombstoneSentinel uint32 = 0xFFFFFFFF

	// DefaultIndexEveryN is how often a sparse index entry is recorded.
	DefaultIndexEveryN = 16
)

type indexEntry struct {
	key    []byte
	offset uint64
}

// Table is a handle to an immutable, already-flushed SSTable file: its
// sparse index and Bloom filter are held in memory; the data block is read
// from disk on demand.
type Table struct {
	Path      string
	ID        uint64
	MinKey    []byte
	MaxKey    []byte
	SizeBytes uint64

	entryCount  uint32
	dataOffset  uint64
	indexOffset uint64
	bloomOffset uint64
	index       []indexEntry
	bf          *bloom.Filter
}

// FormatFilename renders the sstable_{id:06}.sst name from spec.md §6.
func FormatFilename(id uint64) string {
	return fmt.Sprintf("sstable_%06d.sst", id)
}

// FlushFromMemTable builds a sorted in-memory representation of entries
// (from mt, in the order given by keys) and streams it to path as a new
// SSTable, per the write protocol in spec.md §4.4: one fsync on the
// complete file before returning success.
func FlushFromMemTable(path string, id uint64, keys [][]byte, mt *memtable.MemTable, bloomFPR float64, indexEveryN int) (*Table, error) {
	if indexEveryN <= 0 {
		indexEveryN = DefaultIndexEveryN
	}

	entries := make([]memtable.Entry, 0, len(keys))
	for _, k := range keys {
		e, ok := mt.EntryAt(k)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return writeTable(path, id, entries, bloomFPR, indexEveryN)
}

// WriteEntries streams entries (already sorted ascending by key, with no
// duplicate keys) to a new SSTable at path. The Compactor uses this to
// write a merged table directly, without going through a MemTable.
func WriteEntries(path string, id uint64, entries []memtable.Entry, bloomFPR float64, indexEveryN int) (*Table, error) {
	return writeTable(path, id, entries, bloomFPR, indexEveryN)
}

// writeTable streams entries (already sorted ascending by key) to path.
func writeTable(path string, id uint64, entries []memtable.Entry, bloomFPR float64, indexEveryN int) (*Table, error) {
	if indexEveryN <= 0 {
		indexEveryN = DefaultIndexEveryN
	}
	var minKey, maxKey []byte
	if len(entries) > 0 {
		minKey = entries[0].Key
		maxKey = entries[len(entries)-1].Key
	}

	headerLen := headerSize(minKey, maxKey)
	dataOffset := uint64(headerLen)

	var dataBuf bytes.Buffer
	var idxEntries []indexEntry
	bf := bloom.New(len(entries), bloomFPR)
	for i, e := range entries {
		off := dataOffset + uint64(dataBuf.Len())
		if i%indexEveryN == 0 {
			idxEntries = append(idxEntries, indexEntry{key: e.Key, offset: off})
		}
		// Every key gets added to the bloom filter, tombstones included:
		// excluding tombstones (as a literal reading of the on-disk layout
		// note would suggest) lets a newer tombstone get bloom-skipped and
		// an older live value resurface, violating the tombstone-shadowing
		// invariant (spec.md §8 property 5). See DESIGN.md.
		bf.Insert(e.Key)
		writeDataEntry(&dataBuf, e)
	}

	indexOffset := dataOffset + uint64(dataBuf.Len())
	var idxBuf bytes.Buffer
	for _, ie := range idxEntries {
		writeIndexEntry(&idxBuf, ie)
	}

	bloomOffset := indexOffset + uint64(idxBuf.Len())
	bloomBytes := bf.Encode()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, oberr.Wrapf(oberr.KindIO, err, "creating sstable %q", path)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriterSize(f, 64*1024)
	hasher := crc32.NewIEEE()
	mw := io.MultiWriter(w, hasher)

	writeHeader(mw, uint32(len(entries)), dataOffset, indexOffset, bloomOffset, minKey, maxKey)
	if _, err := dataBuf.WriteTo(mw); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "writing sstable data block")
	}
	if _, err := idxBuf.WriteTo(mw); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "writing sstable index block")
	}
	if _, err := mw.Write(bloomBytes); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "writing sstable bloom block")
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], hasher.Sum32())
	if _, err := w.Write(trailer[:]); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "writing sstable trailer")
	}
	if err := w.Flush(); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "flushing sstable")
	}
	if err := f.Sync(); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "fsyncing sstable")
	}

	st, err := f.Stat()
	if err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "stat sstable after flush")
	}

	return &Table{
		Path:        path,
		ID:          id,
		MinKey:      cloneBytes(minKey),
		MaxKey:      cloneBytes(maxKey),
		SizeBytes:   uint64(st.Size()),
		entryCount:  uint32(len(entries)),
		dataOffset:  dataOffset,
		indexOffset: indexOffset,
		bloomOffset: bloomOffset,
		index:       idxEntries,
		bf:          bf,
	}, nil
}

func headerSize(minKey, maxKey []byte) int {
	// magic(4) + version(2) + entryCount(4) + dataOff(8) + idxOff(8) +
	// bloomOff(8) + minKeyLen(4) + minKey + maxKeyLen(4) + maxKey
	return 4 + 2 + 4 + 8 + 8 + 8 + 4 + len(minKey) + 4 + len(maxKey)
}

func writeHeader(w io.Writer, entryCount uint32, dataOffset, indexOffset, bloomOffset uint64, minKey, maxKey []byte) {
	buf := make([]byte, 0, headerSize(minKey, maxKey))
	buf = appendU32(buf, magic)
	buf = appendU16(buf, version)
	buf = appendU32(buf, entryCount)
	buf = appendU64(buf, dataOffset)
	buf = appendU64(buf, indexOffset)
	buf = appendU64(buf, bloomOffset)
	buf = appendU32(buf, uint32(len(minKey)))
	buf = append(buf, minKey...)
	buf = appendU32(buf, uint32(len(maxKey)))
	buf = append(buf, maxKey...)
	_, _ = w.Write(buf)
}

func writeDataEntry(buf *bytes.Buffer, e memtable.Entry) {
	var klenBuf [4]byte
	binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(e.Key)))
	buf.Write(klenBuf[:])
	buf.Write(e.Key)

	var vlenBuf [4]byte
	if e.Tombstone {
		binary.LittleEndian.PutUint32(vlenBuf[:], tombstoneSentinel)
		buf.Write(vlenBuf[:])
		return
	}
	binary.LittleEndian.PutUint32(vlenBuf[:], uint32(len(e.Value)))
	buf.Write(vlenBuf[:])
	buf.Write(e.Value)
}

func writeIndexEntry(buf *bytes.Buffer, e indexEntry) {
	var klenBuf [4]byte
	binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(e.key)))
	buf.Write(klenBuf[:])
	buf.Write(e.key)
	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], e.offset)
	buf.Write(offBuf[:])
}

// Open opens an existing SSTable, verifying the trailer CRC and loading
// its header, sparse index, and Bloom filter into memory.
func Open(path string, id uint64) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oberr.Wrapf(oberr.KindIO, err, "opening sstable %q", path)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "stat sstable")
	}
	size := st.Size()
	if size < 4 {
		return nil, oberr.New(oberr.KindCorruption, "sstable too small")
	}

	body := make([]byte, size-4)
	if _, err := f.ReadAt(body, 0); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "reading sstable body")
	}
	var trailer [4]byte
	if _, err := f.ReadAt(trailer[:], size-4); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "reading sstable trailer")
	}
	wantCRC := binary.LittleEndian.Uint32(trailer[:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, oberr.New(oberr.KindCorruption, "sstable trailer crc mismatch")
	}

	r := bytes.NewReader(body)
	if r.Len() < 4+2+4+8+8+8+4 {
		return nil, oberr.New(oberr.KindCorruption, "sstable header truncated")
	}
	var magicBuf [4]byte
	_, _ = r.Read(magicBuf[:])
	if binary.LittleEndian.Uint32(magicBuf[:]) != magic {
		return nil, oberr.New(oberr.KindCorruption, "sstable magic mismatch")
	}
	var verBuf [2]byte
	_, _ = r.Read(verBuf[:])
	if binary.LittleEndian.Uint16(verBuf[:]) != version {
		return nil, oberr.New(oberr.KindCorruption, "sstable version mismatch")
	}
	entryCount := readU32(r)
	dataOffset := readU64(r)
	indexOffset := readU64(r)
	bloomOffset := readU64(r)
	minKey := readLenPrefixed(r)
	maxKey := readLenPrefixed(r)

	if indexOffset > uint64(len(body)) || bloomOffset > uint64(len(body)) {
		return nil, oberr.New(oberr.KindCorruption, "sstable offsets out of range")
	}

	idxBytes := body[indexOffset:bloomOffset]
	idxR := bytes.NewReader(idxBytes)
	var entries []indexEntry
	for idxR.Len() > 0 {
		if idxR.Len() < 4 {
			return nil, oberr.New(oberr.KindCorruption, "sstable index truncated")
		}
		key := readLenPrefixed(idxR)
		if idxR.Len() < 8 {
			return nil, oberr.New(oberr.KindCorruption, "sstable index truncated")
		}
		off := readU64(idxR)
		entries = append(entries, indexEntry{key: key, offset: off})
	}

	bloomBytes := body[bloomOffset:]
	bf, ok := bloom.Decode(bloomBytes)
	if !ok {
		return nil, oberr.New(oberr.KindCorruption, "sstable bloom block corrupt")
	}

	return &Table{
		Path:        path,
		ID:          id,
		MinKey:      minKey,
		MaxKey:      maxKey,
		SizeBytes:   uint64(size),
		entryCount:  entryCount,
		dataOffset:  dataOffset,
		indexOffset: indexOffset,
		bloomOffset: bloomOffset,
		index:       entries,
		bf:          bf,
	}, nil
}

// MaybeContains reports whether key might be present, per the table's
// Bloom filter.
func (t *Table) MaybeContains(key []byte) bool {
	if t.bf == nil {
		return true
	}
	return t.bf.MayContain(key)
}

// Bloom returns the table's Bloom filter.
func (t *Table) Bloom() *bloom.Filter { return t.bf }

// Lookup looks for key in the data block. found reports whether any entry
// (live or tombstone) exists; tombstone reports whether it's a delete.
func (t *Table) Lookup(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if bytes.Compare(key, t.MinKey) < 0 || bytes.Compare(key, t.MaxKey) > 0 {
		if len(t.MinKey) != 0 || len(t.MaxKey) != 0 {
			return nil, false, false, nil
		}
	}

	f, err := os.Open(t.Path)
	if err != nil {
		return nil, false, false, oberr.Wrapf(oberr.KindIO, err, "opening sstable %q", t.Path)
	}
	defer func() { _ = f.Close() }()

	startOff := t.seekStartOffset(key)
	if _, err := f.Seek(int64(startOff), io.SeekStart); err != nil {
		return nil, false, false, oberr.Wrap(oberr.KindIO, err, "seeking sstable")
	}

	r := bufio.NewReaderSize(f, 64*1024)
	pos := startOff
	for pos < t.indexOffset {
		e, n, ok, rerr := readDataEntry(r)
		if rerr != nil {
			return nil, false, false, rerr
		}
		if !ok {
			return nil, false, false, nil
		}
		pos += uint64(n)
		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			return e.Value, e.Tombstone, true, nil
		}
		if cmp > 0 {
			return nil, false, false, nil
		}
	}
	return nil, false, false, nil
}

func (t *Table) seekStartOffset(key []byte) uint64 {
	if len(t.index) == 0 {
		return t.dataOffset
	}
	lo, hi := 0, len(t.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(t.index[mid].key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	i := lo - 1
	if i < 0 {
		return t.dataOffset
	}
	return t.index[i].offset
}

// Scan returns every live (key, value) pair in the table, in ascending
// order, excluding tombstones.
func (t *Table) Scan() ([]memtable.Entry, error) {
	all, err := t.ScanAll()
	if err != nil {
		return nil, err
	}
	out := make([]memtable.Entry, 0, len(all))
	for _, e := range all {
		if !e.Tombstone {
			out = append(out, e)
		}
	}
	return out, nil
}

// ScanAll returns every entry in the table, tombstones included, in
// ascending key order. The Compactor's merge uses this to see deletes.
func (t *Table) ScanAll() ([]memtable.Entry, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, oberr.Wrapf(oberr.KindIO, err, "opening sstable %q", t.Path)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(int64(t.dataOffset), io.SeekStart); err != nil {
		return nil, oberr.Wrap(oberr.KindIO, err, "seeking sstable data block")
	}
	r := bufio.NewReaderSize(f, 64*1024)
	out := make([]memtable.Entry, 0, t.entryCount)
	pos := t.dataOffset
	for pos < t.indexOffset {
		e, n, ok, err := readDataEntry(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		pos += uint64(n)
		out = append(out, e)
	}
	return out, nil
}

func readDataEntry(r *bufio.Reader) (e memtable.Entry, n int, ok bool, err error) {
	klenBuf := make([]byte, 4)
	if _, ferr := io.ReadFull(r, klenBuf); ferr != nil {
		if ferr == io.EOF {
			return memtable.Entry{}, 0, false, nil
		}
		return memtable.Entry{}, 0, false, oberr.New(oberr.KindCorruption, "sstable data entry truncated")
	}
	klen := binary.LittleEndian.Uint32(klenBuf)
	key := make([]byte, klen)
	if _, ferr := io.ReadFull(r, key); ferr != nil {
		return memtable.Entry{}, 0, false, oberr.New(oberr.KindCorruption, "sstable key truncated")
	}
	vlenBuf := make([]byte, 4)
	if _, ferr := io.ReadFull(r, vlenBuf); ferr != nil {
		return memtable.Entry{}, 0, false, oberr.New(oberr.KindCorruption, "sstable val_len truncated")
	}
	vlen := binary.LittleEndian.Uint32(vlenBuf)
	if vlen == tombstoneSentinel {
		return memtable.Entry{Key: key, Tombstone: true}, 4 + int(klen) + 4, true, nil
	}
	value := make([]byte, vlen)
	if _, ferr := io.ReadFull(r, value); ferr != nil {
		return memtable.Entry{}, 0, false, oberr.New(oberr.KindCorruption, "sstable value truncated")
	}
	return memtable.Entry{Key: key, Value: value}, 4 + int(klen) + 4 + int(vlen), true, nil
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}
func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func readU32(r *bytes.Reader) uint32 {
	var buf [4]byte
	_, _ = io.ReadFull(r, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}
func readU64(r *bytes.Reader) uint64 {
	var buf [8]byte
	_, _ = io.ReadFull(r, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}
func readLenPrefixed(r *bytes.Reader) []byte {
	var lb [4]byte
	_, _ = io.ReadFull(r, lb[:])
	n := binary.LittleEndian.Uint32(lb[:])
	b := make([]byte, n)
	_, _ = io.ReadFull(r, b)
	return b
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
