package mcpregistry

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/runtimeconfig"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// ServerStatus is a server instance's lifecycle state.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopping ServerStatus = "stopping"
	StatusError    ServerStatus = "error"
)

// serverInstance is one running MCP server: refcounted, shared across
// worlds by config hash, with a client handle non-nil iff status ==
// running. The instance owns the client; tool-cache entries built from
// it hold a shared reference and never close it themselves.
type serverInstance struct {
	id               string
	config           ServerConfig
	status           ServerStatus
	referenceCount   int
	associatedWorlds map[string]struct{}
	startedAt        time.Time
	lastHealthCheck  time.Time
	client           MCPClient

	shutdownTimer *time.Timer
	shutdownGen   int // bumped on every reregistration, so a stale timer can abort
}

// Registry is the process-global MCP server registry. One Registry is
// constructed per process and shared by every world.
type Registry struct {
	mu      sync.Mutex
	servers map[string]*serverInstance // keyed by config hash (serverId)
	cache   *Cache
	cfg     runtimeconfig.RegistryConfig
	connect func(ctx context.Context, cfg ServerConfig) (*clientHandle, error)
}

// clientHandle bundles the connected MCP client with the operations the
// registry/dispatch path need (list tools, call tool, close), so
// Registry.connect can be swapped out in tests without a real
// subprocess.
type clientHandle struct {
	client MCPClient
}

// NewRegistry constructs an empty Registry using cfg's tool-cache
// tunables (defaults: ttl 1h, max size 100, idle shutdown 30s).
func NewRegistry(cfg runtimeconfig.RegistryConfig) *Registry {
	r := &Registry{
		servers: make(map[string]*serverInstance),
		cache:   NewCache(cfg.ToolCacheMaxSize),
		cfg:     cfg,
	}
	r.connect = func(ctx context.Context, sc ServerConfig) (*clientHandle, error) {
		c, err := Connect(ctx, sc)
		if err != nil {
			return nil, err
		}
		return &clientHandle{client: c}, nil
	}
	return r
}

// RegisterServer reuses an existing instance by config hash if present,
// else creates one, connects, and transitions starting->running.
// Returns the serverId (config hash). Registering a world that already
// holds a reference is a no-op reuse, so the refcount always equals the
// number of distinct worlds using the instance.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig, worldID string) (string, error) {
	id := ConfigHash(cfg)

	r.mu.Lock()
	if inst, ok := r.servers[id]; ok && inst.status != StatusError {
		if _, held := inst.associatedWorlds[worldID]; !held {
			inst.referenceCount++
			inst.associatedWorlds[worldID] = struct{}{}
		}
		if inst.shutdownTimer != nil {
			inst.shutdownTimer.Stop()
			inst.shutdownTimer = nil
			inst.shutdownGen++
		}
		r.mu.Unlock()
		return id, nil
	}
	// Fresh start, or restart of an instance whose connect failed.
	inst := &serverInstance{
		id:               id,
		config:           cfg,
		status:           StatusStarting,
		referenceCount:   1,
		associatedWorlds: map[string]struct{}{worldID: {}},
	}
	if prev, ok := r.servers[id]; ok {
		inst.referenceCount = prev.referenceCount
		inst.associatedWorlds = prev.associatedWorlds
		if _, held := inst.associatedWorlds[worldID]; !held {
			inst.referenceCount++
			inst.associatedWorlds[worldID] = struct{}{}
		}
	}
	r.servers[id] = inst
	r.mu.Unlock()

	handle, err := r.connect(ctx, cfg)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		inst.status = StatusError
		logger.G(ctx).WithField("server_id", id).WithError(err).Error("mcp server failed to start")
		return "", types.WrapError(types.ErrMCPTransportError, "failed to start mcp server "+cfg.Name, err)
	}
	inst.status = StatusRunning
	inst.startedAt = time.Now()
	inst.lastHealthCheck = inst.startedAt
	inst.client = handle.client
	return id, nil
}

// UnregisterServer decrements the refcount, and once it reaches 0,
// schedules an idle shutdown that a following RegisterServer call
// aborts.
func (r *Registry) UnregisterServer(serverID, worldID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.servers[serverID]
	if !ok {
		return
	}
	if _, held := inst.associatedWorlds[worldID]; !held {
		return
	}
	delete(inst.associatedWorlds, worldID)
	if inst.referenceCount > 0 {
		inst.referenceCount--
	}
	if inst.referenceCount > 0 {
		return
	}

	idleShutdown := r.cfg.IdleShutdown
	if idleShutdown <= 0 {
		idleShutdown = runtimeconfig.DefaultMCPIdleShutdown
	}
	gen := inst.shutdownGen
	inst.shutdownTimer = time.AfterFunc(idleShutdown, func() {
		r.finishIdleShutdown(serverID, gen)
	})
}

// finishIdleShutdown runs on the scheduled-shutdown timer. It aborts if
// a reregistration bumped the generation (or raised the refcount) since
// the timer was armed.
func (r *Registry) finishIdleShutdown(serverID string, gen int) {
	r.mu.Lock()
	inst, ok := r.servers[serverID]
	if !ok || inst.shutdownGen != gen || inst.referenceCount > 0 {
		if ok {
			inst.shutdownTimer = nil
		}
		r.mu.Unlock()
		return
	}
	inst.status = StatusStopping
	client := inst.client
	name := inst.config.Name
	delete(r.servers, serverID)
	r.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	// Drop the tool-cache entry borrowing this instance's client; an
	// entry under the same name but a different hash belongs to another
	// config and stays.
	if entry, ok := r.cache.Get(name); ok && entry.ServerConfigHash == serverID {
		if removed, ok := r.cache.Delete(name); ok {
			removed.Close()
		}
	}
}

// RegisterWorldServers registers every server in a world's mcp config,
// called by the world runtime when a world is created or hydrated. A
// config parse failure is logged and returned; the world proceeds
// without MCP tools.
func (r *Registry) RegisterWorldServers(ctx context.Context, worldID, mcpConfigJSON string) error {
	configs, err := ParseConfig(mcpConfigJSON)
	if err != nil {
		logger.G(ctx).WithField("world_id", worldID).WithError(err).
			Warn("invalid mcp config, world proceeds without mcp servers")
		return err
	}
	var merr error
	for _, cfg := range configs {
		if _, err := r.RegisterServer(ctx, cfg, worldID); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

// UnregisterWorldServers releases a world's references on every server
// in mcpConfigJSON, called on world deletion and on config change
// (with the previous config). Unparseable configs hold no references,
// so there is nothing to release.
func (r *Registry) UnregisterWorldServers(worldID, mcpConfigJSON string) {
	configs, err := ParseConfig(mcpConfigJSON)
	if err != nil {
		return
	}
	for _, cfg := range configs {
		r.UnregisterServer(ConfigHash(cfg), worldID)
	}
}

// GetMCPToolsForWorld parses the world's mcp config and, for each
// server, consults the tool cache, refreshing on miss (config-hash
// mismatch or stale TTL).
func (r *Registry) GetMCPToolsForWorld(ctx context.Context, worldID, mcpConfigJSON string) ([]ToolDescriptor, error) {
	configs, err := ParseConfig(mcpConfigJSON)
	if err != nil {
		logger.G(ctx).WithField("world_id", worldID).WithError(err).
			Warn("invalid mcp config, world proceeds without mcp tools")
		return nil, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		multiErr error
		out      []ToolDescriptor
	)
	wg.Add(len(configs))
	for _, cfg := range configs {
		go func(cfg ServerConfig) {
			defer wg.Done()
			tools, err := r.toolsForServer(ctx, cfg, worldID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				multiErr = multierror.Append(multiErr, err)
				return
			}
			out = append(out, tools...)
		}(cfg)
	}
	wg.Wait()
	if multiErr != nil {
		return out, multiErr
	}
	return out, nil
}

// toolsForServer serves cfg's tool list from the cache, refreshing on
// miss through the refcounted server instance shared by every world
// using this config. The instance owns the connection; the cache entry
// built here only borrows it.
func (r *Registry) toolsForServer(ctx context.Context, cfg ServerConfig, worldID string) ([]ToolDescriptor, error) {
	hash := ConfigHash(cfg)
	now := time.Now()

	if entry, ok := r.cache.Get(cfg.Name); ok && entry.Valid(hash, now) {
		return toolDescriptors(entry), nil
	} else if ok {
		entry.Close() // stale by hash or TTL: dispose before replacing
	}

	client, err := r.ensureServer(ctx, cfg, worldID)
	if err != nil {
		return nil, err
	}
	listResult, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, types.WrapError(types.ErrMCPTransportError, "failed to list tools for "+cfg.Name, err)
	}

	tools := make(map[string]ToolDescriptor, len(listResult.Tools))
	for _, t := range listResult.Tools {
		b, err := t.InputSchema.MarshalJSON()
		if err != nil {
			continue
		}
		raw, err := DecodeRawSchema(b)
		if err != nil {
			continue
		}
		schema := NormalizeSchema(raw)
		tools[t.GetName()] = ToolDescriptor{
			Name:        t.GetName(),
			Description: t.Description,
			Schema:      schema,
			DeclOrder:   SortedKeys(schema.Properties),
		}
	}

	ttl := r.cfg.ToolCacheTTL
	if ttl <= 0 {
		ttl = runtimeconfig.DefaultToolCacheTTL
	}
	entry := &ToolCacheEntry{
		ServerName:       cfg.Name,
		Tools:            tools,
		CachedAt:         now,
		ServerConfigHash: hash,
		TTL:              ttl,
		Client:           client,
		SharedClient:     true,
	}
	entry.ReconnectClient = r.makeReconnector(ctx, cfg, entry)
	if evicted := r.cache.Put(cfg.Name, entry); evicted != nil {
		evicted.Close()
	}
	return toolDescriptors(entry), nil
}

// ensureServer returns the running instance's client for cfg,
// registering worldID against it first. Registration is idempotent per
// world, so repeated cache refreshes never inflate the refcount; the
// world's reference is released by UnregisterWorldServers when the
// world is deleted or its config changes.
func (r *Registry) ensureServer(ctx context.Context, cfg ServerConfig, worldID string) (MCPClient, error) {
	id, err := r.RegisterServer(ctx, cfg, worldID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.servers[id]
	if !ok || inst.status != StatusRunning || inst.client == nil {
		return nil, types.NewError(types.ErrMCPTransportError, "mcp server not running: "+cfg.Name)
	}
	inst.lastHealthCheck = time.Now()
	return inst.client, nil
}

// swapInstanceClient replaces a registered instance's client after a
// reconnect, closing the old handle. Reports whether the instance still
// exists; if not, nothing is closed and the caller owns the new client.
func (r *Registry) swapInstanceClient(serverID string, c MCPClient) bool {
	r.mu.Lock()
	inst, ok := r.servers[serverID]
	var old MCPClient
	if ok {
		old = inst.client
		inst.client = c
		inst.lastHealthCheck = time.Now()
	}
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return ok
}

func toolDescriptors(entry *ToolCacheEntry) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(entry.Tools))
	for _, t := range entry.Tools {
		out = append(out, t)
	}
	return out
}

// makeReconnector returns a reconnect closure gated by a single
// in-flight future so concurrent callers on the same entry share one
// reconnect attempt.
func (r *Registry) makeReconnector(ctx context.Context, cfg ServerConfig, entry *ToolCacheEntry) func() (MCPClient, error) {
	hash := ConfigHash(cfg)
	return func() (MCPClient, error) {
		entry.reconnectMu.Lock()
		if entry.reconnectPending {
			ch := entry.reconnectFuture
			entry.reconnectMu.Unlock()
			if err := <-ch; err != nil {
				return nil, err
			}
			return entry.Client, nil
		}
		entry.reconnectPending = true
		ch := make(chan error, 1)
		entry.reconnectFuture = ch
		entry.reconnectMu.Unlock()

		var retErr error
		old := entry.Client
		handle, err := r.connect(ctx, cfg)
		if err != nil {
			retErr = types.WrapError(types.ErrMCPTransportError, "reconnect failed for "+cfg.Name, err)
		} else {
			if entry.SharedClient {
				// The registered instance owns the handle: hand it the
				// new client and let it close the old one. If the
				// instance was unregistered mid-flight, the entry takes
				// sole ownership of the new connection.
				if !r.swapInstanceClient(hash, handle.client) {
					entry.SharedClient = false
				}
			} else if old != nil {
				_ = old.Close()
			}
			entry.Client = handle.client
			entry.CachedAt = time.Now()
		}

		entry.reconnectMu.Lock()
		entry.reconnectPending = false
		entry.reconnectMu.Unlock()
		ch <- retErr
		close(ch)

		if retErr != nil {
			return nil, retErr
		}
		return entry.Client, nil
	}
}

// ShutdownAll stops every server and disposes every cache entry,
// closing client handles even on failure to prevent leaks.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	servers := r.servers
	r.servers = make(map[string]*serverInstance)
	r.mu.Unlock()

	for id, inst := range servers {
		if inst.shutdownTimer != nil {
			inst.shutdownTimer.Stop()
		}
		if inst.client != nil {
			if err := inst.client.Close(); err != nil {
				logger.G(ctx).WithField("server_id", id).WithError(err).
					Warn("failed to close mcp server during shutdown")
			}
		}
	}

	for _, entry := range r.cache.Clear() {
		entry.Close()
	}
}

// CallToolForWorld resolves toolName against the world's configured mcp
// servers and dispatches the call through the owning server's cache
// entry. A world's config may name several servers; the first cached
// entry whose tool map contains toolName wins (tool names are unique
// within a world's configuration).
func (r *Registry) CallToolForWorld(ctx context.Context, worldID, mcpConfigJSON, toolName string, rawArgs map[string]any, opts DispatchOptions) (CallResult, error) {
	configs, err := ParseConfig(mcpConfigJSON)
	if err != nil {
		return CallResult{}, types.WrapError(types.ErrMCPToolError, "invalid mcp config", err)
	}

	for _, cfg := range configs {
		hash := ConfigHash(cfg)
		entry, ok := r.cache.Get(cfg.Name)
		if !ok || !entry.Valid(hash, time.Now()) {
			if _, err := r.toolsForServer(ctx, cfg, worldID); err != nil {
				continue
			}
			entry, ok = r.cache.Get(cfg.Name)
			if !ok {
				continue
			}
		}
		if _, found := entry.Tools[toolName]; !found {
			continue
		}
		return CallTool(ctx, entry, toolName, rawArgs, opts)
	}

	return CallResult{}, types.NewError(types.ErrMCPToolError, "tool not found in any registered server: "+toolName)
}

// StatusOf reports a server instance's current status, for health/debug
// surfaces; ok is false if serverID is unknown.
func (r *Registry) StatusOf(serverID string) (ServerStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.servers[serverID]
	if !ok {
		return "", false
	}
	return inst.status, true
}
