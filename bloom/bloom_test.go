package bloom

import (
	"fmt"
	"testing"
)

func TestNoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key_%d", i))
		f.Insert(key)
	}
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key_%d", i))
		if !f.MayContain(key) {
			t.Fatalf("MayContain(%s) = false; inserted keys must never yield false (no false negatives)", key)
		}
	}
}

// TestFalsePositiveRateBound is scenario S5 from spec.md §8: across 10,000
// never-inserted keys, the fraction reported present must stay <= 0.05.
func TestFalsePositiveRateBound(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 500; i++ {
		f.Insert([]byte(fmt.Sprintf("key_%d", i)))
	}

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		key := []byte(fmt.Sprintf("nope_%d", i))
		if f.MayContain(key) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	if rate > 0.05 {
		t.Fatalf("false positive rate = %f; want <= 0.05", rate)
	}
}

func TestSizingClamps(t *testing.T) {
	f := New(0, 0)
	if f.NumBits() < 64 {
		t.Fatalf("NumBits() = %d; want >= 64", f.NumBits())
	}
	if f.NumHashes() < 2 || f.NumHashes() > 16 {
		t.Fatalf("NumHashes() = %d; want in [2, 16]", f.NumHashes())
	}
}

func TestEstimatedFPRZeroWhenEmpty(t *testing.T) {
	f := New(100, 0.01)
	if got := f.EstimatedFPR(); got != 0 {
		t.Fatalf("EstimatedFPR() on empty filter = %f; want 0", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New(100, 0.01)
	f.Insert([]byte("hello"))
	f.Insert([]byte("world"))

	encoded := f.Encode()
	decoded, ok := Decode(encoded)
	if !ok {
		t.Fatalf("Decode() failed on a freshly Encode()-d filter")
	}
	if !decoded.MayContain([]byte("hello")) || !decoded.MayContain([]byte("world")) {
		t.Fatalf("decoded filter lost an inserted key")
	}
	if decoded.Count() != f.Count() {
		t.Fatalf("decoded Count() = %d; want %d", decoded.Count(), f.Count())
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, ok := Decode([]byte{1, 2, 3}); ok {
		t.Fatalf("Decode() on truncated input should fail")
	}
}
