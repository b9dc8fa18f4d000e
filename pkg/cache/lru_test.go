package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"InvalidateRemovesEntry", testInvalidateRemovesEntry},
		{"InvalidateAllClearsCache", testInvalidateAllClearsCache},
		{"SetUpdatesExisting", testSetUpdatesExisting},
		{"ConcurrentAccess", testConcurrentAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func png(body string) Entry {
	return Entry{Body: []byte(body), ContentType: "image/png"}
}

func testSetAndGet(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)
	c.Set("key1", png("value1"))

	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if string(got.Body) != "value1" || got.ContentType != "image/png" {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func testGetMiss(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)

	got, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if got.Body != nil {
		t.Fatalf("expected empty entry on miss, got %q", string(got.Body))
	}
}

func testGetExpired(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set("key1", png("value1"))

	if _, ok := c.Get("key1"); !ok {
		t.Fatal("expected cache hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache miss after expiry")
	}
	if c.Size() != 0 {
		t.Fatalf("expected expired entry removed, size %d", c.Size())
	}
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	c.Set("a", png("1"))
	c.Set("b", png("2"))
	c.Set("c", png("3"))

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %q to remain", k)
		}
	}
}

func testInvalidateRemovesEntry(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Set("a", png("1"))
	c.Set("b", png("2"))
	c.Invalidate("a")

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected invalidated entry gone")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected other entry to remain")
	}
}

func testInvalidateAllClearsCache(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Set("a", png("1"))
	c.Set("b", png("2"))
	c.InvalidateAll()

	if c.Size() != 0 {
		t.Fatalf("expected empty cache, size %d", c.Size())
	}
}

func testSetUpdatesExisting(t *testing.T) {
	c := NewLRUCache(1, time.Minute)
	c.Set("a", png("1"))
	c.Set("a", Entry{Body: []byte(`{}`), ContentType: "application/json"})

	got, ok := c.Get("a")
	if !ok || got.ContentType != "application/json" {
		t.Fatalf("expected updated entry, got %+v (hit=%v)", got, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache(50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%10)
			c.Set(key, png(key))
			c.Get(key)
			if n%7 == 0 {
				c.InvalidateAll()
			}
		}(i)
	}
	wg.Wait()
	if c.Size() > 10 {
		t.Fatalf("expected at most 10 keys, got %d", c.Size())
	}
}
