package cache

import (
	"testing"
)

type tableEntry struct {
	name string
	pks  []string
}

func TestNewLRUCache(t *testing.T) {
	cache := NewLRUCache[*tableEntry](10, nil, nil, nil)
	if cache == nil {
		t.Fatal("NewLRUCache returned nil")
	}
	if cache.capacity != 10 {
		t.Errorf("Expected capacity 10, got %d", cache.capacity)
	}
	if cache.lruList.Len() != 0 {
		t.Errorf("Expected empty LRU list, got length %d", cache.lruList.Len())
	}

	disabled := NewLRUCache[*tableEntry](0, nil, nil, nil)
	if disabled.capacity != 0 {
		t.Errorf("Expected capacity 0 for disabled cache, got %d", disabled.capacity)
	}
}

func TestLRUCache_PutAndGet(t *testing.T) {
	cache := NewLRUCache[*tableEntry](3, nil, nil, nil)

	orders := &tableEntry{name: "orders", pks: []string{"id"}}
	account := &tableEntry{name: "account", pks: []string{"id"}}
	stock := &tableEntry{name: "stock", pks: []string{"sku", "warehouse"}}
	audit := &tableEntry{name: "audit", pks: []string{"seq"}}

	cache.Put("db.orders", orders)
	cache.Put("db.account", account)
	cache.Put("db.stock", stock)
	if cache.Len() != 3 {
		t.Errorf("Expected cache size 3 after 3 puts, got %d", cache.Len())
	}

	if v, found := cache.Get("db.stock"); !found || v != stock {
		t.Errorf("Get(db.stock) failed. Found: %v", found)
	}
	if v, found := cache.Get("db.orders"); !found || v != orders {
		t.Errorf("Get(db.orders) failed. Found: %v", found)
	}
	if _, found := cache.Get("db.nonexistent"); found {
		t.Error("Get(db.nonexistent) unexpectedly found item")
	}

	// db.account is least recently used now.
	cache.Put("db.audit", audit)
	if cache.Len() != 3 {
		t.Errorf("Expected cache size 3 after put exceeding capacity, got %d", cache.Len())
	}
	if _, found := cache.Get("db.account"); found {
		t.Error("Get(db.account) unexpectedly found item after eviction")
	}
	if v, found := cache.Get("db.audit"); !found || v != audit {
		t.Errorf("Get(db.audit) failed after put exceeding capacity. Found: %v", found)
	}
}

func TestLRUCache_Put_Update(t *testing.T) {
	cache := NewLRUCache[*tableEntry](2, nil, nil, nil)

	v1 := &tableEntry{name: "orders", pks: []string{"id"}}
	v2 := &tableEntry{name: "orders", pks: []string{"id", "region"}}
	cache.Put("db.orders", v1)
	cache.Put("db.orders", v2)
	if cache.Len() != 1 {
		t.Errorf("Expected cache size 1 after update put, got %d", cache.Len())
	}
	if v, found := cache.Get("db.orders"); !found || v != v2 {
		t.Errorf("Get(db.orders) failed after update. Found: %v", found)
	}
}

func TestLRUCache_EvictionCallback(t *testing.T) {
	var evicted []string
	cache := NewLRUCache[int](2, func(key string, _ int) { evicted = append(evicted, key) }, nil, nil)

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("Expected a to be evicted, got %v", evicted)
	}

	if !cache.Remove("b") {
		t.Error("Remove(b) reported missing key")
	}
	if cache.Remove("b") {
		t.Error("Remove(b) twice reported present key")
	}
	if len(evicted) != 1 {
		t.Errorf("Remove must not call onEvicted, got %v", evicted)
	}

	cache.Clear()
	if len(evicted) != 2 || evicted[1] != "c" {
		t.Errorf("Expected Clear to evict c, got %v", evicted)
	}
}

func TestLRUCache_HitMissCallbacksAndRate(t *testing.T) {
	var hitKeys, missKeys []string
	cache := NewLRUCache[int](2, nil,
		func(key string) { hitKeys = append(hitKeys, key) },
		func(key string) { missKeys = append(missKeys, key) })

	if rate := cache.GetHitRate(); rate != 0.0 {
		t.Errorf("Expected initial hit rate 0.0, got %f", rate)
	}

	cache.Get("k1") // Miss (0h, 1m)
	cache.Put("k1", 1)
	cache.Get("k1") // Hit  (1h, 1m)
	cache.Put("k2", 2)
	cache.Get("k2")    // Hit  (2h, 1m)
	cache.Put("k3", 3) // Evicts k1
	cache.Get("k1")    // Miss (2h, 2m)
	cache.Get("k3")    // Hit  (3h, 2m)

	hits, misses := cache.Stats()
	if hits != 3 || misses != 2 {
		t.Errorf("Final hits/misses mismatch: got hits=%d, misses=%d; want hits=3, misses=2", hits, misses)
	}
	if rate := cache.GetHitRate(); rate != 0.6 {
		t.Errorf("Expected hit rate 0.6, got %f", rate)
	}
	if len(hitKeys) != 3 || len(missKeys) != 2 {
		t.Errorf("Callbacks mismatch: hits=%v misses=%v", hitKeys, missKeys)
	}

	cache.Clear()
	if hits, misses := cache.Stats(); hits != 0 || misses != 0 {
		t.Errorf("Clear must reset counters, got hits=%d misses=%d", hits, misses)
	}
}

func TestLRUCache_Disabled(t *testing.T) {
	cache := NewLRUCache[int](0, nil, nil, nil)

	cache.Put("k1", 1)
	if cache.Len() != 0 {
		t.Errorf("Expected cache size 0 for disabled cache, got %d", cache.Len())
	}
	if _, found := cache.Get("k1"); found {
		t.Error("Get unexpectedly found item in disabled cache")
	}
	if hits, misses := cache.Stats(); hits != 0 || misses != 0 {
		t.Errorf("Counters unexpectedly updated for disabled cache: hits=%d, misses=%d", hits, misses)
	}
}
