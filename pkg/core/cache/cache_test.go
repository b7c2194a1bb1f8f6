package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(maxItems int, ttl time.Duration) (*Cache[string], *clock) {
	clk := &clock{now: time.Unix(1000, 0)}
	return New[string](Config{MaxItems: maxItems, TTL: ttl, Now: clk.Now}), clk
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("Get on empty cache returned a value")
	}
	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v, want 1, true", v, ok)
	}

	hits, misses, rate := c.Stats()
	if hits != 1 || misses != 1 || rate != 50 {
		t.Errorf("Stats() = %d, %d, %v, want 1, 1, 50", hits, misses, rate)
	}
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(10, time.Second)
	c.Set("a", "1")
	c.SetWithTTL("forever", "2", 0)

	clk.Advance(999 * time.Millisecond)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry expired early")
	}
	clk.Advance(time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Error("entry without TTL expired")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestCache_Eviction(t *testing.T) {
	c, clk := newTestCache(2, time.Minute)

	c.Set("a", "1")
	clk.Advance(time.Second)
	c.Set("b", "2")
	clk.Advance(time.Second)
	c.Set("c", "3")

	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}

	// overwriting an existing key does not evict
	c.Set("c", "4")
	if _, ok := c.Get("b"); !ok {
		t.Error("b evicted on overwrite")
	}
}

func TestCache_EvictionPrefersExpired(t *testing.T) {
	c, clk := newTestCache(2, time.Minute)
	c.SetWithTTL("short", "1", time.Second)
	c.Set("long", "2")

	clk.Advance(2 * time.Second)
	c.Set("new", "3")

	if _, ok := c.Get("long"); !ok {
		t.Error("live entry evicted while an expired one was present")
	}
}

func TestCache_GetOrSet(t *testing.T) {
	c, clk := newTestCache(10, time.Second)
	calls := 0
	fn := func() (string, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrSet("k", fn)
		if err != nil || v != "v" {
			t.Fatalf("GetOrSet() = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}

	clk.Advance(time.Second)
	_, _ = c.GetOrSet("k", fn)
	if calls != 2 {
		t.Errorf("fn called %d times after expiry, want 2", calls)
	}
}

func TestCache_GetOrSetDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	boom := errors.New("boom")

	if _, err := c.GetOrSet("k", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrSet() error = %v, want boom", err)
	}
	if c.Size() != 0 {
		t.Error("failed result was cached")
	}
}

func TestCache_DeleteClear(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Delete did not remove a")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}
