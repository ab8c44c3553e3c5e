package ttl

import "testing"

func TestSetAndCheckTTL(t *testing.T) {
	idx := New()
	idx.SetTTL([]byte("key1"), 10_000)
	if idx.IsExpired([]byte("key1")) {
		t.Fatalf("IsExpired(key1) = true; want false immediately after a 10s TTL")
	}
	remaining, found := idx.RemainingTTL([]byte("key1"))
	if !found || remaining == 0 {
		t.Fatalf("RemainingTTL(key1) = %d, %v; want > 0, true", remaining, found)
	}
}

func TestNoTTLNeverExpires(t *testing.T) {
	idx := New()
	if idx.IsExpired([]byte("no_ttl_key")) {
		t.Fatalf("IsExpired() on a key with no TTL should be false")
	}
	if _, found := idx.RemainingTTL([]byte("no_ttl_key")); found {
		t.Fatalf("RemainingTTL() on a key with no TTL should report found=false")
	}
}

func TestImmediateExpiration(t *testing.T) {
	idx := New()
	idx.SetExpiration([]byte("old_key"), 0)
	if !idx.IsExpired([]byte("old_key")) {
		t.Fatalf("IsExpired(old_key) = false; want true for an expiration of 0")
	}
	remaining, found := idx.RemainingTTL([]byte("old_key"))
	if !found || remaining != 0 {
		t.Fatalf("RemainingTTL(old_key) = %d, %v; want 0, true", remaining, found)
	}
}

func TestRemoveTTL(t *testing.T) {
	idx := New()
	idx.SetTTL([]byte("key"), 1000)
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", idx.Len())
	}
	idx.RemoveTTL([]byte("key"))
	if idx.Len() != 0 {
		t.Fatalf("Len() after RemoveTTL = %d; want 0", idx.Len())
	}
	if idx.IsExpired([]byte("key")) {
		t.Fatalf("IsExpired() after RemoveTTL should be false (persistent again)")
	}
}

func TestCollectExpired(t *testing.T) {
	idx := New()
	idx.SetExpiration([]byte("expired1"), 0)
	idx.SetExpiration([]byte("expired2"), 1)
	idx.SetTTL([]byte("active"), 60_000)

	expired := idx.CollectExpired()
	if len(expired) != 2 {
		t.Fatalf("CollectExpired() = %d entries; want 2", len(expired))
	}
}

func TestPurgeExpired(t *testing.T) {
	idx := New()
	idx.SetExpiration([]byte("old1"), 0)
	idx.SetExpiration([]byte("old2"), 0)
	idx.SetTTL([]byte("fresh"), 60_000)

	if idx.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", idx.Len())
	}
	purged := idx.PurgeExpired()
	if purged != 2 {
		t.Fatalf("PurgeExpired() = %d; want 2", purged)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() after PurgeExpired = %d; want 1", idx.Len())
	}
}
