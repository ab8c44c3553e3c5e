// Package wal implements the write-ahead log described in spec.md §4.1:
// a binary append-only log that is the durable sink for every mutation,
// and whose replay rebuilds a MemTable on engine open.
//
// Record format (little-endian, one record per mutation):
//
//	offset  size     field
//	0       1        op_type  (0x01 = Put, 0x02 = Delete)
//	1       4        key_len
//	5       key_len  key_bytes
//	5+kl    4        val_len  (0 for Delete)
//	9+kl    val_len  value_bytes
//	9+kl+vl 4        crc32 (IEEE) over bytes [0 .. 9+kl+vl)
//
// Every Append* call returns only once the record is durable: written to
// the file and, unless the caller disabled it, fsynced.
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/oberr"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/internal/obslog"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
)

// Op tags a WAL record as a Put or a Delete.
type Op uint8

const (
	OpPut    Op = 0x01
	OpDelete Op = 0x02
)

// bufSize is the userspace write buffer flushed before each fsync, per the
// implementation note in spec.md §4.1.
const bufSize = 8 * 1024

// WAL is an append-only log exclusively owned by one Engine for its
// lifetime, per spec.md §5.
type WAL struct {
	f    *os.File
	w    *bufio.Writer
	sync bool
	log  zerolog.Logger
}

// Open opens (creating if needed) the WAL file at path. When sync is true
// every Append* fsyncs before returning.
func Open(path string, sync bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, oberr.Wrapf(oberr.KindIO, err, "opening wal %q", path)
	}
	return &WAL{
		f:    f,
		w:    bufio.NewWriterSize(f, bufSize),
		sync: sync,
		log:  obslog.For("wal"),
	}, nil
}

// Close flushes any buffered bytes and closes the underlying file.
func (w *WAL) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return oberr.Wrap(oberr.KindIO, err, "flushing wal on close")
	}
	if err := w.f.Close(); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "closing wal file")
	}
	return nil
}

// AppendPut durably appends a Put record.
func (w *WAL) AppendPut(key, value []byte) error {
	return w.append(OpPut, key, value)
}

// AppendDelete durably appends a Delete record (val_len is encoded as 0).
func (w *WAL) AppendDelete(key []byte) error {
	return w.append(OpDelete, key, nil)
}

func (w *WAL) append(op Op, key, value []byte) error {
	keyLen := uint32(len(key))
	valLen := uint32(len(value))

	rec := make([]byte, 0, 9+len(key)+len(value)+4)
	rec = append(rec, byte(op))
	rec = appendU32(rec, keyLen)
	rec = append(rec, key...)
	rec = appendU32(rec, valLen)
	rec = append(rec, value...)
	rec = appendU32(rec, crc32.ChecksumIEEE(rec))

	if _, err := w.w.Write(rec); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "appending wal record")
	}
	if err := w.w.Flush(); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "flushing wal buffer")
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return oberr.Wrap(oberr.KindIO, err, "fsyncing wal")
		}
	}
	return nil
}

// Truncate discards the current file's contents atomically and leaves the
// WAL equivalent to a freshly opened empty log at the same path.
func (w *WAL) Truncate() error {
	if err := w.w.Flush(); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "flushing wal before truncate")
	}
	if err := w.f.Truncate(0); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "truncating wal")
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return oberr.Wrap(oberr.KindIO, err, "seeking wal to start")
	}
	w.w = bufio.NewWriterSize(w.f, bufSize)
	return nil
}

// Recover replays the WAL at path into a fresh MemTable. A missing file
// yields an empty MemTable. Recovery stops cleanly at the first torn or
// corrupt record (spec.md §4.1's torn-tail policy): a CRC mismatch or bad
// op_type byte ends replay without error, and a partially written trailing
// record is silently truncated to the last good record.
func Recover(path string) (*memtable.MemTable, error) {
	mt := memtable.New()
	log := obslog.For("wal")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return mt, nil
		}
		return nil, oberr.Wrapf(oberr.KindRecoveryFailed, err, "opening wal %q for recovery", path)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		opByte, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return mt, nil
			}
			return nil, oberr.Wrap(oberr.KindRecoveryFailed, err, "reading wal op byte")
		}
		op := Op(opByte)
		if op != OpPut && op != OpDelete {
			log.Warn().Msg("wal recovery: bad op_type byte, stopping at torn tail")
			return mt, nil
		}

		klenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, klenBuf); err != nil {
			log.Warn().Msg("wal recovery: torn key_len, stopping")
			return mt, nil
		}
		keyLen := binary.LittleEndian.Uint32(klenBuf)

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			log.Warn().Msg("wal recovery: torn key bytes, stopping")
			return mt, nil
		}

		vlenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, vlenBuf); err != nil {
			log.Warn().Msg("wal recovery: torn val_len, stopping")
			return mt, nil
		}
		valLen := binary.LittleEndian.Uint32(vlenBuf)

		value := make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			log.Warn().Msg("wal recovery: torn value bytes, stopping")
			return mt, nil
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			log.Warn().Msg("wal recovery: torn crc, stopping")
			return mt, nil
		}
		gotCRC := binary.LittleEndian.Uint32(crcBuf)

		prefix := make([]byte, 0, 9+len(key)+len(value))
		prefix = append(prefix, opByte)
		prefix = append(prefix, klenBuf...)
		prefix = append(prefix, key...)
		prefix = append(prefix, vlenBuf...)
		prefix = append(prefix, value...)
		if gotCRC != crc32.ChecksumIEEE(prefix) {
			log.Warn().Msg("wal recovery: crc mismatch, stopping at torn tail")
			return mt, nil
		}

		switch op {
		case OpPut:
			mt.Insert(key, value)
		case OpDelete:
			mt.Delete(key)
		}
	}
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
