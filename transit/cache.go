package transit

import (
	"sync"

	"github.com/identhost/drivesync/core"
)

// CacheKey identifies one remote file.
type CacheKey struct {
	OdinID string
	Drive  core.TargetDrive
	FileID string
}

// HeaderCache memoizes transit file headers for the lifetime of a session.
// Entries are never evicted: relayed headers are treated as immutable once
// fetched, so staleness is an accepted tradeoff rather than a bug. Inject a
// fresh instance per session (or per test) instead of sharing module state.
//
// Safe for concurrent use. Concurrent fetches of the same key are not
// deduplicated; the loser of the race redundantly refetches, which is a
// benign inefficiency.
type HeaderCache struct {
	mu      sync.Mutex
	entries map[CacheKey]*core.FileHeader
}

// NewHeaderCache creates an empty cache.
func NewHeaderCache() *HeaderCache {
	return &HeaderCache{entries: make(map[CacheKey]*core.FileHeader)}
}

// Get returns the cached header for key, if present.
func (c *HeaderCache) Get(key CacheKey) (*core.FileHeader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header, ok := c.entries[key]
	return header, ok
}

// Put stores a header. Existing entries are overwritten.
func (c *HeaderCache) Put(key CacheKey, header *core.FileHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = header
}

// Len reports the number of cached headers.
func (c *HeaderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
