// Package rwlock provides an optional shared-read/exclusive-write wrapper
// around an *engine.Engine, for callers that need to share one Engine
// across goroutines. The Rust original (concurrent.rs) bakes this
// serialization into its ConcurrentEngine type; here it stays a thin,
// separate decorator so the core Engine can keep assuming exclusive
// access (spec.md §5) and callers opt into locking only when they need
// it.
package rwlock

import (
	"sync"

	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/engine"
	"github.com/DaviBonetto/OBLIVION-L3-LSM-Storage-Engine/memtable"
)

// Guarded serializes access to an *engine.Engine: reads (Get, Scan, Ttl,
// Info, ...) take the shared lock, writes (Put, Delete, PurgeExpired)
// take the exclusive lock.
type Guarded struct {
	mu  sync.RWMutex
	eng *engine.Engine
}

// New wraps eng for concurrent use.
func New(eng *engine.Engine) *Guarded {
	return &Guarded{eng: eng}
}

func (g *Guarded) Put(key, value []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.Put(key, value)
}

func (g *Guarded) PutWithTTL(key, value []byte, ttlMs uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.PutWithTTL(key, value, ttlMs)
}

func (g *Guarded) Delete(key []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.Delete(key)
}

func (g *Guarded) Get(key []byte) ([]byte, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eng.Get(key)
}

func (g *Guarded) Scan(start, end []byte) ([]memtable.Entry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eng.Scan(start, end)
}

func (g *Guarded) Ttl(key []byte) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eng.Ttl(key)
}

func (g *Guarded) PurgeExpired() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.PurgeExpired()
}

func (g *Guarded) Info() engine.EngineInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eng.Info()
}

func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.Close()
}
