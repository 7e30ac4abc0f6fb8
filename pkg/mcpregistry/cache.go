package mcpregistry

import (
	"sync"
	"time"
)

// ToolDescriptor is one cached, normalized MCP tool. Invocation goes
// through CallTool on the owning cache entry rather than a closure
// captured per tool, so the client reference has a single owner.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      ToolSchema
	DeclOrder   []string // property declaration order, for the Ollama "$" remap
}

// ToolCacheEntry is one server's cached tool list. Client and
// ReconnectClient are supplied by the registry/client layer. When
// SharedClient is set the handle belongs to the refcounted server
// instance and disposal leaves it open; otherwise the entry owns the
// handle and disposal must close it even on failure.
type ToolCacheEntry struct {
	ServerName       string
	Tools            map[string]ToolDescriptor
	CachedAt         time.Time
	ServerConfigHash string
	TTL              time.Duration
	Client           MCPClient
	SharedClient     bool
	ReconnectClient  func() (MCPClient, error)

	reconnectMu      sync.Mutex
	reconnectFuture  chan error
	reconnectPending bool
}

// Valid reports whether the cache entry may still be used without a
// refresh: its config hash must match the caller's current hash, and
// its age must not exceed TTL.
func (e *ToolCacheEntry) Valid(currentHash string, now time.Time) bool {
	if e == nil {
		return false
	}
	if e.ServerConfigHash != currentHash {
		return false
	}
	return now.Sub(e.CachedAt) <= e.TTL
}

// Close disposes the entry's client handle when the entry owns it.
// Errors are swallowed: eviction/shutdown must not leak a handle just
// because Close itself failed. Shared handles stay open; the owning
// server instance closes them on its own shutdown.
func (e *ToolCacheEntry) Close() {
	if e.Client != nil && !e.SharedClient {
		_ = e.Client.Close()
	}
}

// Cache is the process-wide tool cache, keyed by sanitized server name.
// It evicts the oldest entry once size exceeds maxSize.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*ToolCacheEntry
	order   []string // insertion/refresh order, oldest first
	maxSize int
}

// NewCache constructs an empty tool cache with the given eviction
// ceiling (default 100).
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Cache{entries: make(map[string]*ToolCacheEntry), maxSize: maxSize}
}

// Get returns the entry for name, if present, regardless of validity —
// callers check Valid themselves so a stale entry's Client can still be
// closed before being replaced.
func (c *Cache) Get(name string) (*ToolCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	return e, ok
}

// Put stores (or replaces) the entry for name, evicting the oldest entry
// first if this insertion would push the cache over maxSize. The
// replaced entry, if any, is returned so the caller can Close it.
func (c *Cache) Put(name string, entry *ToolCacheEntry) (evicted *ToolCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[name]; ok {
		evicted = old
		c.removeFromOrder(name)
	}
	c.entries[name] = entry
	c.order = append(c.order, name)

	for len(c.entries) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		if oldest == name {
			continue // just-inserted entry can't be its own eviction victim
		}
		if victim, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			victim.Close()
		}
	}
	return evicted
}

// Delete removes and returns the entry for name without closing it — the
// caller is responsible for disposal (used by shutdownAllMCPServers,
// which closes entries itself while logging per-entry failures).
func (c *Cache) Delete(name string) (*ToolCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if ok {
		delete(c.entries, name)
		c.removeFromOrder(name)
	}
	return e, ok
}

// All returns every entry currently cached, for shutdownAllMCPServers.
func (c *Cache) All() []*ToolCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ToolCacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Clear empties the cache and returns every entry it held, for the
// caller to Close.
func (c *Cache) Clear() []*ToolCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ToolCacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.entries = make(map[string]*ToolCacheEntry)
	c.order = nil
	return out
}

func (c *Cache) removeFromOrder(name string) {
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
