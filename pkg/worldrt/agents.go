package worldrt

import (
	"context"
	"time"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// CreateAgentParams is the input to CreateAgent.
type CreateAgentParams struct {
	ID           string // optional; defaults to kebabCase(Name)
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	AutoReply    *bool // nil defaults to true
}

// CreateAgent creates an agent in worldIDOrName, rejecting the call
// while the world is processing.
func (r *Runtime) CreateAgent(ctx context.Context, worldIDOrName string, params CreateAgentParams) (types.Agent, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return types.Agent{}, err
	}
	if err := st.requireNotProcessing(); err != nil {
		return types.Agent{}, err
	}

	id := params.ID
	if id == "" {
		id = idutil.KebabCase(params.Name)
	}
	if id == "" {
		return types.Agent{}, types.NewError(types.ErrConfigParseError, "agent must have an id or a name")
	}

	st.mu.Lock()
	_, exists := st.agents[id]
	worldID := st.world.ID
	st.mu.Unlock()
	if exists {
		return types.Agent{}, types.NewError(types.ErrDuplicate, "agent already exists: "+id)
	}

	autoReply := true
	if params.AutoReply != nil {
		autoReply = *params.AutoReply
	}

	now := time.Now()
	agent := types.Agent{
		ID:           id,
		Name:         params.Name,
		Type:         params.Type,
		Provider:     params.Provider,
		Model:        params.Model,
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		AutoReply:    autoReply,
		Status:       "active",
		LastActive:   now,
	}

	if err := r.store.CreateAgent(ctx, worldID, agent); err != nil {
		return types.Agent{}, err
	}

	st.mu.Lock()
	st.agents[id] = &agent
	bus := st.bus
	st.mu.Unlock()

	bus.Publish(ctx, types.NewCRUDEvent(types.CRUDPayload{
		Operation: types.CRUDCreate,
		Entity:    "agent",
		ID:        id,
	}))

	return agent, nil
}

// resolveAgent finds agentIDOrName within worldID's live state,
// applying the same id/name/normalized-form resolution rule
// CreateWorld/GetWorld use for worlds.
func (st *worldState) resolveAgent(idOrName string) (*types.Agent, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if a, ok := st.agents[idutil.KebabCase(idOrName)]; ok {
		return a, true
	}
	byID := make(map[string]types.Agent, len(st.agents))
	for id, a := range st.agents {
		byID[id] = *a
	}
	id, _, found := idutil.Resolve(byID, types.Agent.DisplayName, idOrName)
	if !found {
		return nil, false
	}
	a, ok := st.agents[id]
	return a, ok
}

// GetAgent resolves agentIDOrName within worldIDOrName.
func (r *Runtime) GetAgent(ctx context.Context, worldIDOrName, agentIDOrName string) (types.Agent, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return types.Agent{}, err
	}
	a, ok := st.resolveAgent(agentIDOrName)
	if !ok {
		return types.Agent{}, types.NewError(types.ErrAgentNotFound, "agent not found: "+agentIDOrName)
	}
	return *a, nil
}

// ListAgents returns every agent registered in worldIDOrName.
func (r *Runtime) ListAgents(ctx context.Context, worldIDOrName string) ([]types.Agent, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]types.Agent, 0, len(st.agents))
	for _, a := range st.agents {
		out = append(out, *a)
	}
	return out, nil
}

// UpdateAgent persists changes to an existing agent, rejected while the
// world is processing.
func (r *Runtime) UpdateAgent(ctx context.Context, worldIDOrName string, agent types.Agent) error {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return err
	}
	if err := st.requireNotProcessing(); err != nil {
		return err
	}

	st.mu.Lock()
	_, exists := st.agents[agent.ID]
	worldID := st.world.ID
	st.mu.Unlock()
	if !exists {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+agent.ID)
	}

	if err := r.store.UpdateAgent(ctx, worldID, agent); err != nil {
		return err
	}
	st.mu.Lock()
	st.agents[agent.ID] = &agent
	bus := st.bus
	st.mu.Unlock()

	bus.Publish(ctx, types.NewCRUDEvent(types.CRUDPayload{
		Operation: types.CRUDUpdate,
		Entity:    "agent",
		ID:        agent.ID,
	}))
	return nil
}

// DeleteAgent removes agentIDOrName from worldIDOrName, rejected while
// the world is processing.
func (r *Runtime) DeleteAgent(ctx context.Context, worldIDOrName, agentIDOrName string) error {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return err
	}
	if err := st.requireNotProcessing(); err != nil {
		return err
	}

	a, ok := st.resolveAgent(agentIDOrName)
	if !ok {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+agentIDOrName)
	}

	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	if err := r.store.DeleteAgent(ctx, worldID, a.ID); err != nil {
		return err
	}
	st.mu.Lock()
	delete(st.agents, a.ID)
	bus := st.bus
	st.mu.Unlock()

	bus.Publish(ctx, types.NewCRUDEvent(types.CRUDPayload{
		Operation: types.CRUDDelete,
		Entity:    "agent",
		ID:        a.ID,
	}))
	return nil
}

// UpdateAgentMemory appends messages to agentIDOrName's stored memory
// for chatID and refreshes the in-memory Memory field, rejected while
// the world is processing.
func (r *Runtime) UpdateAgentMemory(ctx context.Context, worldIDOrName, agentIDOrName, chatID string, messages []types.AgentMessage) error {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return err
	}
	if err := st.requireNotProcessing(); err != nil {
		return err
	}

	a, ok := st.resolveAgent(agentIDOrName)
	if !ok {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+agentIDOrName)
	}

	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	if err := r.store.AppendMemory(ctx, worldID, a.ID, chatID, messages...); err != nil {
		return err
	}
	return r.refreshAgentMemory(ctx, st, a.ID, chatID)
}

// ClearAgentMemory archives agentIDOrName's existing memory
// (best-effort: an archive failure is logged but does not abort the
// clear) then resets Memory=[] and LLMCallCount=0, rejected while the
// world is processing.
func (r *Runtime) ClearAgentMemory(ctx context.Context, worldIDOrName, agentIDOrName string) error {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return err
	}
	if err := st.requireNotProcessing(); err != nil {
		return err
	}

	a, ok := st.resolveAgent(agentIDOrName)
	if !ok {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+agentIDOrName)
	}

	st.mu.Lock()
	worldID := st.world.ID
	existing := append([]types.AgentMessage(nil), a.Memory...)
	st.mu.Unlock()

	if len(existing) > 0 {
		if err := r.store.ArchiveMemory(ctx, worldID, a.ID, existing); err != nil {
			logger.G(ctx).WithField("agent_id", a.ID).WithError(err).
				Warn("failed to archive agent memory before clearing; proceeding anyway")
		}
	}

	if err := r.store.DeleteAgentMemory(ctx, worldID, a.ID); err != nil {
		return err
	}

	st.mu.Lock()
	if live, ok := st.agents[a.ID]; ok {
		live.Memory = nil
		live.LLMCallCount = 0
	}
	st.mu.Unlock()

	updated, _ := st.resolveAgent(a.ID)
	if updated != nil {
		return r.store.UpdateAgent(ctx, worldID, *updated)
	}
	return nil
}
