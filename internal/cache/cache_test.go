package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func domainCacheConfig(cacheType string) domain.CacheConfig {
	return domain.CacheConfig{Type: cacheType, LocalMaxSize: 10}
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the oldest
		_, _ = smallCache.Get(ctx, tenantID, "a")

		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to survive eviction")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-a", "shared", []byte("a-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-b", "shared", []byte("b-value"), time.Minute)

		val, _ := cache.Get(ctx, "tenant-a", "shared")
		if string(val) != "a-value" {
			t.Errorf("tenant-a sees wrong value: %s", val)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := cache.Get(ctx, "", "key1"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := cache.Set(ctx, "", "key1", []byte("x"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUAddressSet(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("MissReturnsNil", func(t *testing.T) {
		addresses, err := cache.GetAddressSet(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetAddressSet failed: %v", err)
		}
		if addresses != nil {
			t.Errorf("expected nil on miss, got %v", addresses)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		err := cache.SetAddressSet(ctx, tenantID, []string{"raddr1", "raddr2"}, time.Minute)
		if err != nil {
			t.Fatalf("SetAddressSet failed: %v", err)
		}

		addresses, err := cache.GetAddressSet(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetAddressSet failed: %v", err)
		}
		if len(addresses) != 2 || addresses[0] != "raddr1" {
			t.Errorf("unexpected addresses: %v", addresses)
		}
	})

	t.Run("EmptySetIsAHit", func(t *testing.T) {
		other := "tenant-empty"
		if err := cache.SetAddressSet(ctx, other, nil, time.Minute); err != nil {
			t.Fatalf("SetAddressSet failed: %v", err)
		}

		addresses, err := cache.GetAddressSet(ctx, other)
		if err != nil {
			t.Fatalf("GetAddressSet failed: %v", err)
		}
		if addresses == nil {
			t.Error("cached empty set must read back as non-nil")
		}
		if len(addresses) != 0 {
			t.Errorf("expected empty set, got %v", addresses)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := cache.InvalidateAddressSet(ctx, tenantID); err != nil {
			t.Fatalf("InvalidateAddressSet failed: %v", err)
		}
		addresses, _ := cache.GetAddressSet(ctx, tenantID)
		if addresses != nil {
			t.Errorf("expected miss after invalidation, got %v", addresses)
		}
	})
}

func TestLRUIncrementCounter(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Increments", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := cache.IncrementCounter(ctx, tenantID, "alerts", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, tenantID, "short", 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		got, err := cache.IncrementCounter(ctx, tenantID, "short", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected counter reset after window, got %d", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		a, _ := cache.IncrementCounter(ctx, "tenant-a", "c", time.Minute)
		b, _ := cache.IncrementCounter(ctx, "tenant-b", "c", time.Minute)
		if a != 1 || b != 1 {
			t.Errorf("counters leaked across tenants: a=%d b=%d", a, b)
		}
	})
}

func TestNewCacheFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domainCacheConfig("memory"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domainCacheConfig("memcached")); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
