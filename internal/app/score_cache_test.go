package app

import (
	"testing"
	"time"
)

func TestScoreCache_ExpiresEntries(t *testing.T) {
	cache := NewScoreCache(10 * time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put("identity-a", 0.7)

	if score, ok := cache.Get("identity-a"); !ok || score != 0.7 {
		t.Fatalf("Get = (%f, %t), want (0.7, true)", score, ok)
	}

	// Just inside the TTL the entry is still served.
	now = now.Add(10 * time.Minute)
	if _, ok := cache.Get("identity-a"); !ok {
		t.Fatal("entry expired before the TTL elapsed")
	}

	// Past the TTL the entry is a miss and gets evicted.
	now = now.Add(time.Second)
	if _, ok := cache.Get("identity-a"); ok {
		t.Fatal("expired entry was served")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy eviction", cache.Len())
	}
}

func TestScoreCache_SweepEvictsOnlyExpired(t *testing.T) {
	cache := NewScoreCache(10 * time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put("stale", 0.4)
	now = now.Add(11 * time.Minute)
	cache.Put("fresh", 0.9)

	if evicted := cache.Sweep(); evicted != 1 {
		t.Errorf("Sweep evicted %d entries, want 1", evicted)
	}
	if _, ok := cache.Get("fresh"); !ok {
		t.Error("fresh entry was swept")
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestScoreCache_PutOverwrites(t *testing.T) {
	cache := NewScoreCache(10 * time.Minute)

	cache.Put("identity-a", 0.2)
	cache.Put("identity-a", 0.8)

	if score, ok := cache.Get("identity-a"); !ok || score != 0.8 {
		t.Fatalf("Get = (%f, %t), want (0.8, true)", score, ok)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}
