// Package bloom implements the probabilistic membership filter described
// in spec.md §4.3: a bit array sized from a target false-positive rate,
// with double hashing and a guarantee of no false negatives.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// hashSeed2 is the second double-hashing seed mandated by spec.md §4.3.
const hashSeed2 = 0xDEADBEEF

// Filter is a Bloom filter: a bit array of length NumBits(), NumHashes()
// hash functions, and a running count of inserted keys.
type Filter struct {
	bits      []byte
	numBits   uint64
	numHashes int
	count     uint64
}

// New sizes a Filter for expectedItems entries at targetFPR, per the
// formulas in spec.md §4.3: m = ceil(-n*ln(p)/ln(2)^2) clamped to >= 64
// bits, k = ceil((m/n)*ln(2)) clamped to [2, 16].
func New(expectedItems int, targetFPR float64) *Filter {
	n := expectedItems
	if n < 1 {
		n = 1
	}
	p := targetFPR
	if p < 1e-4 {
		p = 1e-4
	}
	if p > 0.5 {
		p = 0.5
	}

	ln2 := math.Ln2
	m := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	numBits := uint64(m)
	if numBits < 64 {
		numBits = 64
	}

	k := math.Ceil((float64(numBits) / float64(n)) * ln2)
	numHashes := int(k)
	if numHashes < 2 {
		numHashes = 2
	}
	if numHashes > 16 {
		numHashes = 16
	}

	return WithParams(int(numBits), numHashes)
}

// WithParams builds a Filter with explicit sizing, still clamped to the
// bounds in spec.md §4.3.
func WithParams(numBits, numHashes int) *Filter {
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 2 {
		numHashes = 2
	}
	if numHashes > 16 {
		numHashes = 16
	}
	byteLen := (numBits + 7) / 8
	return &Filter{
		bits:      make([]byte, byteLen),
		numBits:   uint64(numBits),
		numHashes: numHashes,
	}
}

// Insert adds key to the filter.
func (f *Filter) Insert(key []byte) {
	h1, h2 := hash2(key)
	for i := 0; i < f.numHashes; i++ {
		idx := (h1 + uint64(i)*h2) % f.numBits
		f.setBit(idx)
	}
	f.count++
}

// MayContain reports whether key may be in the set. It never returns
// false for a key that was Insert-ed (no false negatives); it may return
// true for a key that was never inserted, with probability approximately
// EstimatedFPR().
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := hash2(key)
	for i := 0; i < f.numHashes; i++ {
		idx := (h1 + uint64(i)*h2) % f.numBits
		if !f.getBit(idx) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(idx uint64) {
	f.bits[idx>>3] |= 1 << (idx & 7)
}

func (f *Filter) getBit(idx uint64) bool {
	return f.bits[idx>>3]&(1<<(idx&7)) != 0
}

// Count returns the number of keys inserted.
func (f *Filter) Count() uint64 { return f.count }

// NumBits returns m, the size of the bit array.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns k, the number of hash functions.
func (f *Filter) NumHashes() int { return f.numHashes }

// EstimatedFPR returns (1 - exp(-k*n/m))^k, or 0 when n == 0, per
// spec.md §4.3.
func (f *Filter) EstimatedFPR() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// Encode serializes the filter for the SSTable bloom block (spec.md
// §4.4's "Bloom block"): [u64 numBits][u32 numHashes][u64 count][bits...].
func (f *Filter) Encode() []byte {
	out := make([]byte, 8+4+8+len(f.bits))
	binary.LittleEndian.PutUint64(out[0:8], f.numBits)
	binary.LittleEndian.PutUint32(out[8:12], uint32(f.numHashes))
	binary.LittleEndian.PutUint64(out[12:20], f.count)
	copy(out[20:], f.bits)
	return out
}

// Decode reverses Encode.
func Decode(b []byte) (*Filter, bool) {
	if len(b) < 20 {
		return nil, false
	}
	numBits := binary.LittleEndian.Uint64(b[0:8])
	numHashes := binary.LittleEndian.Uint32(b[8:12])
	count := binary.LittleEndian.Uint64(b[12:20])
	bits := b[20:]
	if numBits == 0 || numHashes == 0 {
		return nil, false
	}
	if uint64(len(bits))*8 < numBits {
		return nil, false
	}
	buf := make([]byte, len(bits))
	copy(buf, bits)
	return &Filter{bits: buf, numBits: numBits, numHashes: int(numHashes), count: count}, true
}

// hash2 returns the two seeded 64-bit hashes used for double hashing:
// h1 = H(seed=0, key), h2 = H(seed=0xDEADBEEF, key), per spec.md §4.3.
func hash2(key []byte) (uint64, uint64) {
	h1d := xxhash.NewWithSeed(0)
	_, _ = h1d.Write(key)
	h1 := h1d.Sum64()

	h2d := xxhash.NewWithSeed(hashSeed2)
	_, _ = h2d.Write(key)
	h2 := h2d.Sum64()
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}
