// Package worldrt hosts the agent-world runtime: world/agent/chat CRUD
// with identifier resolution, the per-world event bus wiring, the agent
// response processor, and the message edit/resubmission flow. It builds
// on the identifier-resolution and event-bus primitives in pkg/idutil
// and pkg/eventbus and persists everything through pkg/storage.
package worldrt

import (
	"context"
	"sync"
	"time"

	"github.com/agentworld-dev/runtime/pkg/eventbus"
	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/storage"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// worldState is one world's live runtime state: the cached World record
// (isProcessing lives only here, never persisted), its agents and chats
// by id, and its event bus.
type worldState struct {
	mu     sync.Mutex
	world  types.World
	agents map[string]*types.Agent
	chats  map[string]*types.Chat

	// procMu is the world's single processing slot: agent response work
	// acquires it (blocking) so eligible agents run one after another,
	// never dropped. isProcessing mirrors whether the slot is held, for
	// the fail-fast mutation guard (requireNotProcessing) and for
	// snapshots.
	procMu       sync.Mutex
	isProcessing bool
	bus          *eventbus.Bus
	approvals    *ApprovalService

	// lastTitleEventTitle tracks, per chatID, the title carried by the
	// most recent chat-title-updated system event, so EditUserMessage
	// can tell an auto-generated title from a user-edited one without
	// replaying the whole event history.
	lastTitleEventTitle map[string]string
}

// Runtime is WorldRuntime: the top-level object owning every world's live
// state, backed by a StorageAPI and wired to the process-global MCP
// registry. One Runtime is constructed per process.
type Runtime struct {
	mu     sync.Mutex
	worlds map[string]*worldState // keyed by normalized world id

	store     storage.StorageAPI
	registry  *mcpregistry.Registry
	control   *ControlRegistry
	processor *Processor
	requester OptionRequester
}

// SetOptionRequester wires the external human-approval channel used by
// every world's ApprovalService. Call before worlds are created;
// worlds hydrated earlier keep a service with no channel, which fails
// uncached requests rather than prompting.
func (r *Runtime) SetOptionRequester(req OptionRequester) {
	r.mu.Lock()
	r.requester = req
	r.mu.Unlock()
}

// Approvals returns the world's approval memoization service.
func (r *Runtime) Approvals(ctx context.Context, worldIDOrName string) (*ApprovalService, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.approvals, nil
}

// AttachProcessor wires p as the subscriber every world's bus gets
// wired to from here on, including worlds already hydrated. Call once
// at process start, after constructing both the Runtime and its
// Processor (they're mutually referential, so neither can build the
// other in its own constructor).
func (r *Runtime) AttachProcessor(p *Processor) {
	r.mu.Lock()
	r.processor = p
	existing := make([]*worldState, 0, len(r.worlds))
	for _, st := range r.worlds {
		existing = append(existing, st)
	}
	r.mu.Unlock()

	for _, st := range existing {
		st.bus.Subscribe(p.handlerFor(st.world.ID))
	}
}

// New constructs a Runtime over store, with registry wired in for
// getMCPToolsForWorld lookups during agent processing.
func New(store storage.StorageAPI, registry *mcpregistry.Registry) *Runtime {
	return &Runtime{
		worlds:   make(map[string]*worldState),
		store:    store,
		registry: registry,
		control:  NewControlRegistry(),
	}
}

// CreateWorldParams is the input to CreateWorld.
type CreateWorldParams struct {
	Name            string
	Description     string
	TurnLimit       int
	MainAgent       string
	ChatLLMProvider string
	ChatLLMModel    string
	MCPConfig       string
	Variables       string
}

// CreateWorld normalizes id, rejects duplicates, initializes empty
// agents/chats state and an event bus, wires event-persistence if the
// storage backend implements it, then synchronously creates one default
// chat.
func (r *Runtime) CreateWorld(ctx context.Context, params CreateWorldParams) (types.World, error) {
	id := idutil.KebabCase(params.Name)
	if id == "" {
		return types.World{}, types.NewError(types.ErrConfigParseError, "world name must contain at least one letter or digit")
	}

	if _, ok, err := r.store.GetWorld(ctx, id); err != nil {
		return types.World{}, err
	} else if ok {
		return types.World{}, types.NewError(types.ErrDuplicate, "world already exists: "+id)
	}

	turnLimit := params.TurnLimit
	if turnLimit < 1 {
		turnLimit = types.DefaultTurnLimit
	}

	now := time.Now()
	w := types.World{
		ID:              id,
		Name:            params.Name,
		Description:     params.Description,
		TurnLimit:       turnLimit,
		MainAgent:       params.MainAgent,
		ChatLLMProvider: params.ChatLLMProvider,
		ChatLLMModel:    params.ChatLLMModel,
		MCPConfig:       params.MCPConfig,
		Variables:       params.Variables,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	if err := r.store.CreateWorld(ctx, w); err != nil {
		return types.World{}, err
	}

	st := r.attachState(w)
	r.wireEventHooks(ctx, id, st)
	r.registerWorldServers(ctx, id, w.MCPConfig)

	chat, err := r.ensureDefaultChat(ctx, st)
	if err != nil {
		return types.World{}, err
	}
	st.world.CurrentChatID = chat.ID
	if err := r.store.UpdateWorld(ctx, st.world); err != nil {
		return types.World{}, err
	}

	return st.snapshot(), nil
}

// registerWorldServers takes the world's references on its configured
// MCP servers in the process-global registry, so instances are shared
// and refcounted across worlds. A parse failure is already logged by
// the registry; the world proceeds without MCP tools.
func (r *Runtime) registerWorldServers(ctx context.Context, worldID, mcpConfig string) {
	if r.registry == nil || mcpConfig == "" {
		return
	}
	if err := r.registry.RegisterWorldServers(ctx, worldID, mcpConfig); err != nil {
		logger.G(ctx).WithField("world_id", worldID).WithError(err).
			Warn("failed to register mcp servers for world")
	}
}

// unregisterWorldServers releases the world's references; the registry
// shuts an instance down once its last world lets go.
func (r *Runtime) unregisterWorldServers(worldID, mcpConfig string) {
	if r.registry == nil || mcpConfig == "" {
		return
	}
	r.registry.UnregisterWorldServers(worldID, mcpConfig)
}

// wireEventHooks subscribes the persistence and activity-listener
// handlers every world carries. Event persistence is opt-in: only
// backends implementing storage.EventStorage receive it.
func (r *Runtime) wireEventHooks(ctx context.Context, worldID string, st *worldState) {
	if es, ok := r.store.(storage.EventStorage); ok {
		st.bus.Subscribe(func(ctx context.Context, ev types.Event) {
			if err := es.AppendEvent(ctx, worldID, ev); err != nil {
				logger.G(ctx).WithField("world_id", worldID).WithError(err).
					Warn("failed to persist event")
			}
		})
	}

	st.bus.Subscribe(func(ctx context.Context, ev types.Event) {
		st.mu.Lock()
		st.world.LastUpdated = time.Now()
		w := st.world
		st.mu.Unlock()
		if err := r.store.UpdateWorld(ctx, w); err != nil {
			logger.G(ctx).WithField("world_id", worldID).WithError(err).
				Warn("failed to record world activity timestamp")
		}
	})
}

func (r *Runtime) attachState(w types.World) *worldState {
	r.mu.Lock()
	requester := r.requester
	r.mu.Unlock()
	st := &worldState{
		world:     w,
		agents:    make(map[string]*types.Agent),
		chats:     make(map[string]*types.Chat),
		bus:       eventbus.New(),
		approvals: NewApprovalService(requester),
	}
	st.bus.Subscribe(func(ctx context.Context, ev types.Event) {
		if ev.Kind == types.EventSystem && ev.System != nil && ev.System.Kind == "chat-title-updated" {
			st.mu.Lock()
			if st.lastTitleEventTitle == nil {
				st.lastTitleEventTitle = make(map[string]string)
			}
			if title, ok := ev.System.Data["title"].(string); ok {
				st.lastTitleEventTitle[ev.System.ChatID] = title
			}
			st.mu.Unlock()
		}
	})

	r.mu.Lock()
	r.worlds[w.ID] = st
	if r.processor != nil {
		st.bus.Subscribe(r.processor.handlerFor(w.ID))
	}
	r.mu.Unlock()
	return st
}

// GetWorld resolves id by direct lookup or by scanning stored ids and
// names, hydrating agents and chats from storage on first access, and
// auto-creating a default chat if the world currently has none.
func (r *Runtime) GetWorld(ctx context.Context, idOrName string) (types.World, error) {
	st, err := r.resolve(ctx, idOrName)
	if err != nil {
		return types.World{}, err
	}

	st.mu.Lock()
	hasChats := len(st.chats) > 0
	st.mu.Unlock()
	if !hasChats {
		if _, err := r.ensureDefaultChat(ctx, st); err != nil {
			return types.World{}, err
		}
	}

	return st.snapshot(), nil
}

// resolve finds or hydrates the worldState for idOrName, falling back
// to a scan of storage's world list (matching stored id, name, or their
// normalized forms) when there is no in-memory match and no direct id
// hit.
func (r *Runtime) resolve(ctx context.Context, idOrName string) (*worldState, error) {
	norm := idutil.KebabCase(idOrName)

	r.mu.Lock()
	if st, ok := r.worlds[norm]; ok {
		r.mu.Unlock()
		return st, nil
	}
	r.mu.Unlock()

	if w, ok, err := r.store.GetWorld(ctx, norm); err != nil {
		return nil, err
	} else if ok {
		return r.hydrate(ctx, w)
	}

	all, err := r.store.ListWorlds(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.World, len(all))
	for _, w := range all {
		byID[w.ID] = w
	}
	_, w, found := idutil.Resolve(byID, types.World.DisplayName, idOrName)
	if !found {
		return nil, types.NewError(types.ErrWorldNotFound, "world not found: "+idOrName)
	}
	return r.hydrate(ctx, w)
}

func (r *Runtime) hydrate(ctx context.Context, w types.World) (*worldState, error) {
	r.mu.Lock()
	if st, ok := r.worlds[w.ID]; ok {
		r.mu.Unlock()
		return st, nil
	}
	r.mu.Unlock()

	st := r.attachState(w)
	r.wireEventHooks(ctx, w.ID, st)
	r.registerWorldServers(ctx, w.ID, w.MCPConfig)

	agents, err := r.store.ListAgents(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	for i := range agents {
		a := agents[i]
		st.agents[a.ID] = &a
	}
	st.mu.Unlock()

	chats, err := r.store.ListChats(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	for _, snap := range chats {
		c := snap.Chat
		st.chats[c.ID] = &c
	}
	st.mu.Unlock()

	return st, nil
}

// ensureDefaultChat creates the world's first chat if it has none yet.
func (r *Runtime) ensureDefaultChat(ctx context.Context, st *worldState) (types.Chat, error) {
	st.mu.Lock()
	for _, c := range st.chats {
		chat := *c
		st.mu.Unlock()
		return chat, nil
	}
	worldID := st.world.ID
	st.mu.Unlock()

	chat := types.Chat{
		ID:        idutil.NewChatID(time.Now().UnixNano()),
		WorldID:   worldID,
		Name:      types.DefaultChatName,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.store.CreateChat(ctx, worldID, chat); err != nil {
		return types.Chat{}, err
	}
	st.mu.Lock()
	st.chats[chat.ID] = &chat
	st.mu.Unlock()
	return chat, nil
}

// UpdateWorld persists changes to an existing world and refreshes the
// in-memory snapshot. A changed mcp config releases the world's
// references on the old config's servers and registers the new ones.
func (r *Runtime) UpdateWorld(ctx context.Context, w types.World) error {
	st, err := r.resolve(ctx, w.ID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	oldConfig := st.world.MCPConfig
	st.mu.Unlock()

	w.LastUpdated = time.Now()
	if err := r.store.UpdateWorld(ctx, w); err != nil {
		return err
	}
	st.mu.Lock()
	st.world = w
	st.mu.Unlock()

	if oldConfig != w.MCPConfig {
		r.unregisterWorldServers(w.ID, oldConfig)
		r.registerWorldServers(ctx, w.ID, w.MCPConfig)
	}
	return nil
}

// DeleteWorld never hydrates runtime state: it loads raw world data
// directly, invokes persistence-cleanup hooks if present, releases the
// world's MCP server references, then deletes.
func (r *Runtime) DeleteWorld(ctx context.Context, idOrName string) error {
	norm := idutil.KebabCase(idOrName)
	w, ok, err := r.store.GetWorld(ctx, norm)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrWorldNotFound, "world not found: "+idOrName)
	}

	if err := r.store.DeleteWorld(ctx, norm); err != nil {
		return err
	}
	r.unregisterWorldServers(norm, w.MCPConfig)

	r.mu.Lock()
	delete(r.worlds, norm)
	r.mu.Unlock()
	return nil
}

// ListWorlds returns every world's normalized id and current record.
func (r *Runtime) ListWorlds(ctx context.Context) ([]types.World, error) {
	return r.store.ListWorlds(ctx)
}

// snapshot returns a value copy of the world record with the in-memory
// isProcessing flag applied.
func (st *worldState) snapshot() types.World {
	st.mu.Lock()
	defer st.mu.Unlock()
	w := st.world
	w.IsProcessing = st.isProcessing
	return w
}

// acquireProcessing claims the world's processing slot, blocking until
// any in-flight agent response finishes. Within one world, processing
// is serialized; it is never skipped for an eligible agent.
func (st *worldState) acquireProcessing() {
	st.procMu.Lock()
	st.mu.Lock()
	st.isProcessing = true
	st.mu.Unlock()
}

func (st *worldState) releaseProcessing() {
	st.mu.Lock()
	st.isProcessing = false
	st.mu.Unlock()
	st.procMu.Unlock()
}

func (st *worldState) requireNotProcessing() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.isProcessing {
		return types.NewError(types.ErrWorldProcessing, "world is processing; mutation rejected")
	}
	return nil
}
