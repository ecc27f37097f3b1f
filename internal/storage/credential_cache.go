package storage

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// credentialCache is an LRU cache with TTL for credential rows on the
// lookup hot path. Entries are stored and returned by value so callers
// never share mutable state with the cache.
type credentialCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[uuid.UUID]*list.Element
	order    *list.List
}

type credentialCacheEntry struct {
	id        uuid.UUID
	cred      models.Credential
	expiresAt time.Time
}

func newCredentialCache(capacity int, ttl time.Duration) *credentialCache {
	return &credentialCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[uuid.UUID]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns a copy of the cached credential, when present and fresh.
func (c *credentialCache) Get(id uuid.UUID) (*models.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.entries[id]
	if !found {
		return nil, false
	}

	entry := elem.Value.(*credentialCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.remove(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)
	cred := entry.cred
	return &cred, true
}

// Put stores a credential, evicting the least recently used entry when
// over capacity.
func (c *credentialCache) Put(cred models.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if elem, found := c.entries[cred.ID]; found {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*credentialCacheEntry)
		entry.cred = cred
		entry.expiresAt = expiresAt
		return
	}

	elem := c.order.PushFront(&credentialCacheEntry{
		id:        cred.ID,
		cred:      cred,
		expiresAt: expiresAt,
	})
	c.entries[cred.ID] = elem

	if c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
}

// Invalidate drops a credential, called on every mutation so stale
// permission or active flags never outlive their row.
func (c *credentialCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.entries[id]; found {
		c.remove(elem)
	}
}

// Clear drops every entry.
func (c *credentialCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uuid.UUID]*list.Element, c.capacity)
	c.order.Init()
}

// Len returns the number of cached credentials.
func (c *credentialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// PurgeExpired removes entries past their TTL and reports how many were
// dropped. Called periodically on long-lived processes.
func (c *credentialCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	var prev *list.Element
	for elem := c.order.Back(); elem != nil; elem = prev {
		prev = elem.Prev()
		if now.After(elem.Value.(*credentialCacheEntry).expiresAt) {
			c.remove(elem)
			removed++
		}
	}

	return removed
}

func (c *credentialCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*credentialCacheEntry).id)
}

// CacheStats reports credential cache occupancy.
type CacheStats struct {
	Capacity int
	Size     int
	TTL      time.Duration
}

// Stats returns current cache statistics.
func (c *credentialCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Capacity: c.capacity,
		Size:     c.order.Len(),
		TTL:      c.ttl,
	}
}
