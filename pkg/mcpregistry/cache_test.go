package mcpregistry

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

// trackingClient is a minimal MCPClient that records whether Close was
// called, for eviction/disposal tests.
type trackingClient struct{ closed *bool }

func (c *trackingClient) Start(ctx context.Context) error { return nil }
func (c *trackingClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}
func (c *trackingClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{}, nil
}
func (c *trackingClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (c *trackingClient) Close() error {
	*c.closed = true
	return nil
}

func TestCache_ValidRequiresMatchingHashAndFreshTTL(t *testing.T) {
	entry := &ToolCacheEntry{ServerConfigHash: "h1", CachedAt: time.Now(), TTL: time.Hour}
	assert.True(t, entry.Valid("h1", time.Now()))
	assert.False(t, entry.Valid("h2", time.Now()), "hash mismatch invalidates")
	assert.False(t, entry.Valid("h1", time.Now().Add(2*time.Hour)), "stale TTL invalidates")
}

func TestCache_PutEvictsOldestOverMaxSize(t *testing.T) {
	c := NewCache(2)
	var aClosed, bClosed, cClosed bool
	c.Put("a", &ToolCacheEntry{ServerName: "a", Client: &trackingClient{closed: &aClosed}})
	c.Put("b", &ToolCacheEntry{ServerName: "b", Client: &trackingClient{closed: &bClosed}})
	c.Put("c", &ToolCacheEntry{ServerName: "c", Client: &trackingClient{closed: &cClosed}}) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.True(t, aClosed, "evicted entry's client must be closed")
	assert.False(t, bClosed)
	assert.False(t, cClosed)

	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_ClearReturnsAllEntries(t *testing.T) {
	c := NewCache(10)
	c.Put("a", &ToolCacheEntry{ServerName: "a"})
	c.Put("b", &ToolCacheEntry{ServerName: "b"})

	entries := c.Clear()
	assert.Len(t, entries, 2)

	_, ok := c.Get("a")
	assert.False(t, ok)
}
