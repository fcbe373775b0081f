package cache

import (
	"context"
	"crypto/ed25519"
	"crypto/sha1" //nolint:gosec // G505: sha1 for cache keys, not security
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"modelplayground/internal/core"
)

// LRUCache is a thread-safe LRU cache with expiration
type LRUCache struct {
	capacity int
	items    map[string]*CacheItem
	mu       sync.RWMutex
	head     *CacheItem
	tail     *CacheItem
	ctx      context.Context
	cancel   context.CancelFunc
}

// CacheItem represents an item in the cache with LRU links
type CacheItem struct {
	Value      any
	Expiration int64
	key        string
	prev       *CacheItem
	next       *CacheItem
}

// NewCache creates a new LRU Cache
func NewCache() *LRUCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &LRUCache{
		capacity: core.CacheDefaultCapacity,
		items:    make(map[string]*CacheItem),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.head = &CacheItem{}
	c.tail = &CacheItem{}
	c.head.next = c.tail
	c.tail.prev = c.head

	go c.startCleanupWorker()
	return c
}

func (c *LRUCache) startCleanupWorker() {
	ticker := time.NewTicker(core.CacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop terminates the cache cleanup worker goroutine.
func (c *LRUCache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Set stores a value in the cache with the given TTL.
func (c *LRUCache) Set(key string, value any, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.Value = value
		item.Expiration = time.Now().Add(duration).UnixNano()
		c.moveToFront(item)
		return
	}

	item := &CacheItem{
		Value:      value,
		Expiration: time.Now().Add(duration).UnixNano(),
		key:        key,
	}

	c.addToFront(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evict()
	}
}

// Get retrieves a value from the cache, returning false if not found or expired.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	if time.Now().UnixNano() > item.Expiration {
		c.remove(item)
		delete(c.items, key)
		return nil, false
	}

	c.moveToFront(item)
	return item.Value, true
}

// Delete removes a single key.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		c.remove(item)
		delete(c.items, key)
	}
}

func (c *LRUCache) addToFront(item *CacheItem) {
	item.next = c.head.next
	item.prev = c.head
	c.head.next.prev = item
	c.head.next = item
}

func (c *LRUCache) moveToFront(item *CacheItem) {
	c.remove(item)
	c.addToFront(item)
}

func (c *LRUCache) remove(item *CacheItem) {
	item.prev.next = item.next
	item.next.prev = item.prev
}

func (c *LRUCache) evict() {
	if c.tail.prev == c.head {
		return
	}
	item := c.tail.prev
	c.remove(item)
	delete(c.items, item.key)
}

func (c *LRUCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for key, item := range c.items {
		if now > item.Expiration {
			c.remove(item)
			delete(c.items, key)
		}
	}
}

// Clear clears all cache items
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*CacheItem)
}

// CacheService holds the caches shared by request handlers.
type CacheService struct {
	general *LRUCache
	keys    *LRUCache
}

// NewCacheService creates a new CacheService with general and signing-key caches.
func NewCacheService() *CacheService {
	return &CacheService{
		general: NewCache(),
		keys:    NewCache(),
	}
}

// GetSigningKeys returns a copy of the cached webhook verification keys.
func (cs *CacheService) GetSigningKeys(key string) ([]ed25519.PublicKey, bool) {
	cached, found := cs.keys.Get(key)
	if !found {
		return nil, false
	}

	keys, ok := cached.([]ed25519.PublicKey)
	if !ok {
		return nil, false
	}

	return cloneKeys(keys), true
}

// SetSigningKeys stores webhook verification keys.
func (cs *CacheService) SetSigningKeys(key string, value []ed25519.PublicKey, duration time.Duration) {
	cs.keys.Set(key, cloneKeys(value), duration)
}

// Get retrieves a value from the general cache.
func (cs *CacheService) Get(key string) (any, bool) {
	return cs.general.Get(key)
}

// Set stores a value in the general cache.
func (cs *CacheService) Set(key string, value any, duration time.Duration) {
	cs.general.Set(key, value, duration)
}

// Delete removes a value from the general cache.
func (cs *CacheService) Delete(key string) {
	cs.general.Delete(key)
}

// Stop terminates both cache cleanup workers.
func (cs *CacheService) Stop() {
	cs.general.Stop()
	cs.keys.Stop()
}

// Close stops the cache service and releases resources.
func (cs *CacheService) Close() error {
	cs.Stop()
	return nil
}

func cloneKeys(keys []ed25519.PublicKey) []ed25519.PublicKey {
	out := make([]ed25519.PublicKey, len(keys))
	for i, k := range keys {
		out[i] = append(ed25519.PublicKey(nil), k...)
	}
	return out
}

// GenerateJWKSCacheKey creates a cache key for a key-set URL
func GenerateJWKSCacheKey(jwksURL string) string {
	h := sha1.New() //nolint:gosec // G401: sha1 for cache keys, not security
	h.Write([]byte(jwksURL))
	return fmt.Sprintf("jwks:%s:%s", core.CacheKeyVersion, hex.EncodeToString(h.Sum(nil)))
}

// GenerateSchemaCacheKey creates a cache key for a parsed schema file.
// The modification time is part of the key so edits on disk are picked up.
func GenerateSchemaCacheKey(path string, modTime time.Time) string {
	return fmt.Sprintf("schema:%s:%s:%d", core.CacheKeyVersion, path, modTime.UnixNano())
}

// GenerateWebhookResultKey creates a cache key for a result delivered by webhook.
func GenerateWebhookResultKey(requestID string) string {
	return fmt.Sprintf("webhook:%s:%s", core.CacheKeyVersion, requestID)
}

// TruncateCacheKey safely truncates cache key for log display
func TruncateCacheKey(key string, maxLen int) string {
	if len(key) <= maxLen {
		return key
	}
	return key[:maxLen]
}
