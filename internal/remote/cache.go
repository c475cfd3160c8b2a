package remote

import "sync"

// FolderCache remembers resolved folder ids per account so repeated
// lookups within a session skip the remote round-trip. It is an explicit
// object owned by whoever wires the adapters, never ambient global state;
// Clear exists for logout and test isolation.
type FolderCache struct {
	mu  sync.Mutex
	ids map[string]string
}

// NewFolderCache creates an empty FolderCache.
func NewFolderCache() *FolderCache {
	return &FolderCache{ids: make(map[string]string)}
}

// Get returns the cached folder id for key, if any.
func (c *FolderCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[key]
	return id, ok
}

// Put records the folder id for key.
func (c *FolderCache) Put(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
}

// Clear drops all cached ids for every adapter sharing this cache.
func (c *FolderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]string)
}
