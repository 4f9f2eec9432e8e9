package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, int](func() time.Time { return now })

	c.Set("t-1", 42, time.Minute)
	if v, ok := c.Get("t-1"); !ok || v != 42 {
		t.Fatalf("expected cached value, got %v %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("t-1"); ok {
		t.Fatalf("expected entry to expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", c.Len())
	}
}

func TestTTLCacheZeroTTLPersists(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, string](func() time.Time { return now })

	c.Set("k", "v", 0)
	now = now.Add(24 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected entry without ttl to persist")
	}
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be deleted")
	}
}
