package cache_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/boddenberg/support-agent-go/internal/infra/cache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_PerEntryTTL(t *testing.T) {
	c := cache.New[int](time.Hour)
	defer c.Close()

	c.SetWithTTL("short", 1, 30*time.Millisecond)
	c.SetWithTTL("forever", 2, 0)
	c.Set("default", 3)
	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expected short-lived entry to expire")
	}
	if v, ok := c.Get("forever"); !ok || v != 2 {
		t.Errorf("expected non-expiring entry, got %v %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 live entries, got %d", c.Len())
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got %d", c.Len())
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()

	c.Set("still", "works")
	if _, ok := c.Get("still"); !ok {
		t.Fatal("expected cache to remain usable after Close")
	}
}
