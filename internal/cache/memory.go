package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryCache implements Cache in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]memoryEntry
	config  Config
	now     func() time.Time
	stopCh  chan struct{}
	stopped bool
}

type memoryEntry struct {
	value []byte
	// expiresAt is zero for keys without expiry.
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache(cfg Config) *MemoryCache {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	c := &MemoryCache{
		items:  make(map[string]memoryEntry),
		config: cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	// Start cleanup goroutine
	go c.cleanupLoop()

	return c
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
		}
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (c *MemoryCache) entry(ttl time.Duration, value []byte) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl = resolveTTL(ttl, c.config.DefaultTTL); ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a value in the cache with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = c.entry(ttl, value)
	return nil
}

// SetNX stores a value only if the key does not exist.
func (c *MemoryCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok && !e.expired(c.now()) {
		return false, nil
	}
	c.items[key] = c.entry(ttl, value)
	return true, nil
}

// Delete removes a key from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// DeleteIfValue removes key only while it holds value.
func (c *MemoryCache) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.now()) || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(c.items, key)
	return true, nil
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
	return nil
}

// Health always succeeds for the memory backend.
func (c *MemoryCache) Health(ctx context.Context) error {
	return nil
}
