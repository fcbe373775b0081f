package cache

import (
	"crypto/ed25519"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLRUCache_BasicSetGet(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key1", "value1", 1*time.Hour)
	value, found := cache.Get("key1")
	if !found {
		t.Error("Expected to find key1")
	}
	if value != "value1" {
		t.Errorf("Expected 'value1', got '%v'", value)
	}
}

func TestLRUCache_GetNonExistent(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	_, found := cache.Get("nonexistent")
	if found {
		t.Error("Should not find nonexistent key")
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value", 100*time.Millisecond)
	_, found := cache.Get("key")
	if !found {
		t.Error("Key should be found immediately after set")
	}
	time.Sleep(150 * time.Millisecond)
	_, found = cache.Get("key")
	if found {
		t.Error("Key should be expired")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.mu.Lock()
	cache.capacity = 2
	cache.mu.Unlock()
	cache.Set("key1", "value1", 1*time.Hour)
	cache.Set("key2", "value2", 1*time.Hour)
	cache.Set("key3", "value3", 1*time.Hour)
	_, found := cache.Get("key1")
	if found {
		t.Error("key1 should be evicted")
	}
	_, found = cache.Get("key2")
	if !found {
		t.Error("key2 should exist")
	}
	_, found = cache.Get("key3")
	if !found {
		t.Error("key3 should exist")
	}
}

func TestLRUCache_LRUOrder(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.mu.Lock()
	cache.capacity = 2
	cache.mu.Unlock()
	cache.Set("key1", "value1", 1*time.Hour)
	cache.Set("key2", "value2", 1*time.Hour)
	cache.Get("key1")
	cache.Set("key3", "value3", 1*time.Hour)
	_, found := cache.Get("key2")
	if found {
		t.Error("key2 should be evicted (least recently used)")
	}
	_, found = cache.Get("key1")
	if !found {
		t.Error("key1 should exist")
	}
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	const numGoroutines = 100
	const numOperations = 100
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				key := string(rune('a' + (id+j)%26))
				cache.Set(key, id*numOperations+j, 1*time.Hour)
			}
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				key := string(rune('a' + (id+j)%26))
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value1", 1*time.Hour)
	v, _ := cache.Get("key")
	if v != "value1" {
		t.Errorf("Expected 'value1'")
	}
	cache.Set("key", "value2", 1*time.Hour)
	v, _ = cache.Get("key")
	if v != "value2" {
		t.Errorf("Expected 'value2'")
	}
}

func TestLRUCache_ExpiredItemCleanup(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key1", "value1", 50*time.Millisecond)
	cache.Set("key2", "value2", 1*time.Hour)
	time.Sleep(100 * time.Millisecond)
	_, found := cache.Get("key1")
	if found {
		t.Error("key1 should be expired")
	}
	_, found = cache.Get("key2")
	if !found {
		t.Error("key2 should still exist")
	}
	cache.mu.Lock()
	_, exists := cache.items["key1"]
	cache.mu.Unlock()
	if exists {
		t.Error("key1 should be removed")
	}
}

func TestLRUCache_ZeroTTL(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value", 0)
	_, found := cache.Get("key")
	if found {
		t.Error("Key with zero TTL should be immediately expired")
	}
}

func TestLRUCache_NegativeTTL(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value", -1*time.Second)
	_, found := cache.Get("key")
	if found {
		t.Error("Key with negative TTL should be immediately expired")
	}
}

func TestLRUCache_PeriodicCleanup(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	for i := 0; i < 5; i++ {
		cache.Set(string(rune('a'+i)), i, 1*time.Hour)
	}
	cache.mu.Lock()
	itemCount := len(cache.items)
	cache.mu.Unlock()
	if itemCount != 5 {
		t.Errorf("Expected 5 items, got %d", itemCount)
	}
}

func TestLRUCache_TypeSafety(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("string", "value", 1*time.Hour)
	cache.Set("int", 42, 1*time.Hour)
	cache.Set("struct", struct{ Name string }{"test"}, 1*time.Hour)
	strVal, _ := cache.Get("string")
	if _, ok := strVal.(string); !ok {
		t.Error("Expected string type")
	}
	intVal, _ := cache.Get("int")
	if _, ok := intVal.(int); !ok {
		t.Error("Expected int type")
	}
}

func TestNewCacheService(t *testing.T) {
	service := NewCacheService()
	if service == nil {
		t.Fatal("NewCacheService should not return nil")
	}
	defer func() { _ = service.Close() }()
	if service.general == nil {
		t.Error("general cache should be initialized")
	}
	if service.keys == nil {
		t.Error("signing key cache should be initialized")
	}
}

func testKey(b byte) ed25519.PublicKey {
	k := make(ed25519.PublicKey, ed25519.PublicKeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestCacheService_SigningKeys(t *testing.T) {
	service := NewCacheService()
	defer func() { _ = service.Close() }()
	cacheKey := GenerateJWKSCacheKey("https://example.com/jwks.json")
	service.SetSigningKeys(cacheKey, []ed25519.PublicKey{testKey(1), testKey(2)}, time.Hour)

	keys, found := service.GetSigningKeys(cacheKey)
	if !found {
		t.Fatal("signing keys should be cached")
	}
	if len(keys) != 2 || keys[1][0] != 2 {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if _, found = service.GetSigningKeys(GenerateJWKSCacheKey("https://other.example.com/jwks.json")); found {
		t.Error("keys are scoped to their JWKS URL")
	}
}

func TestCacheService_SigningKeysAreCopied(t *testing.T) {
	service := NewCacheService()
	defer func() { _ = service.Close() }()
	original := []ed25519.PublicKey{testKey(7)}
	service.SetSigningKeys("k", original, time.Hour)
	original[0][0] = 0

	first, _ := service.GetSigningKeys("k")
	if first[0][0] != 7 {
		t.Error("cache should not share memory with the caller's slice")
	}
	first[0][0] = 9
	second, _ := service.GetSigningKeys("k")
	if second[0][0] != 7 {
		t.Error("returned keys should be copies")
	}
}

func TestCacheService_GetSet(t *testing.T) {
	service := NewCacheService()
	defer func() { _ = service.Close() }()
	service.Set("test-key", "test-value", 1*time.Hour)
	value, found := service.Get("test-key")
	if !found {
		t.Error("value should be cached")
	}
	if value != "test-value" {
		t.Errorf("expected 'test-value', got '%v'", value)
	}
}

func TestCacheService_Close(t *testing.T) {
	service := NewCacheService()
	service.Set("key1", "value1", 1*time.Hour)
	if err := service.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}

func TestGenerateJWKSCacheKey(t *testing.T) {
	key1 := GenerateJWKSCacheKey("https://rest.alpha.fal.ai/.well-known/jwks.json")
	key2 := GenerateJWKSCacheKey("https://rest.alpha.fal.ai/.well-known/jwks.json")
	key3 := GenerateJWKSCacheKey("https://other.example/jwks.json")
	if key1 != key2 {
		t.Error("same URL should give the same key")
	}
	if key1 == key3 {
		t.Error("different URLs should give different keys")
	}
	if !strings.HasPrefix(key1, "jwks:v1:") {
		t.Errorf("unexpected key format %q", key1)
	}
}

func TestGenerateSchemaCacheKey(t *testing.T) {
	now := time.Now()
	a := GenerateSchemaCacheKey("fal_schemas/fal-ai-flux-schema.json", now)
	b := GenerateSchemaCacheKey("fal_schemas/fal-ai-flux-schema.json", now.Add(time.Second))
	if a == b {
		t.Error("a changed modification time should change the key")
	}
}

func TestTruncateCacheKey(t *testing.T) {
	if got := TruncateCacheKey("jwks:v1:abcdef", 7); got != "jwks:v1" {
		t.Errorf("got %q", got)
	}
	if got := TruncateCacheKey("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestLRUCache_Delete(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key1", "value1", time.Hour)
	cache.Delete("key1")
	cache.Delete("missing")
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should be deleted")
	}
}

func TestCacheService_Delete(t *testing.T) {
	cs := NewCacheService()
	defer cs.Stop()

	key := GenerateWebhookResultKey("req-1")
	cs.Set(key, map[string]any{"ok": true}, time.Hour)
	cs.Delete(key)
	if _, found := cs.Get(key); found {
		t.Error("webhook result should be gone after Delete")
	}
}

func TestLRUCache_Clear(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key1", "value1", 1*time.Hour)
	cache.Set("key2", "value2", 1*time.Hour)
	cache.Clear()
	_, found := cache.Get("key1")
	if found {
		t.Error("key1 should be cleared")
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("short", "value", 50*time.Millisecond)
	cache.Set("long", "value", 1*time.Hour)
	time.Sleep(100 * time.Millisecond)
	cache.cleanupExpired()
	_, found := cache.Get("short")
	if found {
		t.Error("short 应该被清理")
	}
	_, found = cache.Get("long")
	if !found {
		t.Error("long 应该仍然存在")
	}
}

func TestLRUCache_CleanupExpired_Empty(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.cleanupExpired()
}

func TestLRUCache_Evict_EmptyCache(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.mu.Lock()
	cache.evict()
	cache.mu.Unlock()
}
