// Package ttl implements the lazy-expiry TTL index described in spec.md
// §4.6: a key -> absolute-expiration-ms side index, checked only on reads,
// grounded on the Rust original's engine/ttl.rs (kept here in Go idiom,
// not its structure).
package ttl

import (
	"sort"
	"time"
)

// Index maps keys to an absolute expiration timestamp (Unix epoch
// milliseconds). It is exclusively owned by one Engine, per spec.md §5.
type Index struct {
	expirations map[string]uint64
}

// New returns an empty TTL index.
func New() *Index {
	return &Index{expirations: make(map[string]uint64)}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// SetTTL sets key to expire ttlMs milliseconds from now.
func (idx *Index) SetTTL(key []byte, ttlMs uint64) {
	idx.expirations[string(key)] = nowMs() + ttlMs
}

// SetExpiration sets key's absolute expiration timestamp.
func (idx *Index) SetExpiration(key []byte, expiresAtMs uint64) {
	idx.expirations[string(key)] = expiresAtMs
}

// RemoveTTL clears any TTL on key, making it persistent again.
func (idx *Index) RemoveTTL(key []byte) {
	delete(idx.expirations, string(key))
}

// IsExpired reports whether key has a TTL that has passed. A key with no
// TTL never expires.
func (idx *Index) IsExpired(key []byte) bool {
	expiresAt, ok := idx.expirations[string(key)]
	if !ok {
		return false
	}
	return nowMs() >= expiresAt
}

// RemainingTTL returns the milliseconds left before key expires. found is
// false when key has no TTL; a found key already past its expiration
// returns (0, true).
func (idx *Index) RemainingTTL(key []byte) (remainingMs uint64, found bool) {
	expiresAt, ok := idx.expirations[string(key)]
	if !ok {
		return 0, false
	}
	now := nowMs()
	if now >= expiresAt {
		return 0, true
	}
	return expiresAt - now, true
}

// GetExpiration returns the absolute expiration timestamp for key.
func (idx *Index) GetExpiration(key []byte) (expiresAtMs uint64, found bool) {
	v, ok := idx.expirations[string(key)]
	return v, ok
}

// CollectExpired returns every key whose TTL has passed as of now, sorted
// for deterministic iteration.
func (idx *Index) CollectExpired() [][]byte {
	now := nowMs()
	var out [][]byte
	for k, expiresAt := range idx.expirations {
		if now >= expiresAt {
			out = append(out, []byte(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i]) < string(out[j]) })
	return out
}

// PurgeExpired removes every currently-expired key from the index and
// returns how many were removed.
func (idx *Index) PurgeExpired() int {
	expired := idx.CollectExpired()
	for _, k := range expired {
		delete(idx.expirations, string(k))
	}
	return len(expired)
}

// Len returns the number of keys carrying an active TTL entry.
func (idx *Index) Len() int { return len(idx.expirations) }

// IsEmpty reports whether no keys carry a TTL entry.
func (idx *Index) IsEmpty() bool { return len(idx.expirations) == 0 }
