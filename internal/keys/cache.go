package keys

import (
	"sync"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

type cachedKey struct {
	plaintext []byte
	meta      domain.KeyMetadata
	cachedAt  time.Time
	ttl       time.Duration
}

// KeyCache is the in-process plaintext key cache. Entries are time-bounded
// and never persisted; rotation evicts, emergency rotation flushes.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]cachedKey
	ttl     time.Duration
	now     func() time.Time
}

func NewKeyCache(ttl time.Duration) *KeyCache {
	return &KeyCache{
		entries: make(map[string]cachedKey),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *KeyCache) Get(keyID string) ([]byte, domain.KeyMetadata, bool) {
	now := c.now()
	c.mu.RLock()
	entry, ok := c.entries[keyID]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.KeyMetadata{}, false
	}
	if now.After(entry.cachedAt.Add(entry.ttl)) {
		c.mu.Lock()
		if e, still := c.entries[keyID]; still && e.cachedAt.Equal(entry.cachedAt) {
			delete(c.entries, keyID)
		}
		c.mu.Unlock()
		return nil, domain.KeyMetadata{}, false
	}
	return entry.plaintext, entry.meta, true
}

func (c *KeyCache) Put(keyID string, plaintext []byte, meta domain.KeyMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyID] = cachedKey{
		plaintext: plaintext,
		meta:      meta,
		cachedAt:  c.now(),
		ttl:       c.ttl,
	}
}

// Touch bumps the cached metadata's usage counters without hitting the store.
func (c *KeyCache) Touch(keyID string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[keyID]
	if !ok {
		return
	}
	entry.meta.UsageCount++
	entry.meta.LastUsed = &now
	c.entries[keyID] = entry
}

func (c *KeyCache) Evict(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyID)
}

// Flush drops every entry. Registered with the master key manager so an
// emergency rotation clears all cached plaintext system-wide.
func (c *KeyCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedKey)
}

func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
