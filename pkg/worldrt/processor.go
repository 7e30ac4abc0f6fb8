package worldrt

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/llmprovider"
	"github.com/agentworld-dev/runtime/pkg/llmqueue"
	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// maxToolIterations bounds the tool-call loop within a single agent
// response: the loop re-enters the model after each tool round until it
// returns text or this ceiling is reached.
const maxToolIterations = 25

// Processor is the event-bus subscriber that implements the agent
// response decision and processing loop.
type Processor struct {
	rt       *Runtime
	queue    *llmqueue.Queue[llmprovider.Response]
	router   *llmprovider.Router
	registry *mcpregistry.Registry

	// Streaming selects the streaming LLM path: each response's deltas
	// are published as sse chunk events between a start and an end
	// event, all carrying the messageId the final message is persisted
	// under.
	Streaming bool
}

// NewProcessor wires a Processor to rt's worlds, subscribing it to every
// world's bus as worlds are created/hydrated.
func NewProcessor(rt *Runtime, queue *llmqueue.Queue[llmprovider.Response], router *llmprovider.Router, registry *mcpregistry.Registry) *Processor {
	return &Processor{rt: rt, queue: queue, router: router, registry: registry}
}

// handlerFor binds worldID into an eventbus.Handler closure suitable for
// Bus.Subscribe, so one Processor can serve every world's bus without
// each world needing its own Processor instance.
func (p *Processor) handlerFor(worldID string) func(ctx context.Context, ev types.Event) {
	return func(ctx context.Context, ev types.Event) {
		p.HandleMessage(ctx, worldID, ev)
	}
}

// HandleMessage is the bus subscriber entry point: on every message
// event it evaluates every registered agent's eligibility and dispatches
// processing for each agent that must respond.
func (p *Processor) HandleMessage(ctx context.Context, worldID string, ev types.Event) {
	if ev.Kind != types.EventMessage {
		return
	}

	st, err := p.rt.resolve(ctx, worldID)
	if err != nil {
		logger.G(ctx).WithField("world_id", worldID).WithError(err).
			Warn("processor could not resolve world for message event")
		return
	}

	mentions := extractMentions(ev.Message.Content)
	restricting := paragraphBeginningMentions(ev.Message.Content)
	sender := classifySender(st, ev.Message.Sender)

	if sender.kind == types.SenderHuman {
		go p.maybeGenerateTitle(context.Background(), st, ev.Message.ChatID, ev.Message.Content)
	}

	st.mu.Lock()
	agentIDs := make([]string, 0, len(st.agents))
	for id := range st.agents {
		agentIDs = append(agentIDs, id)
	}
	st.mu.Unlock()

	var eligible []string
	for _, agentID := range agentIDs {
		if sender.kind == types.SenderAgent && sender.id == agentID {
			continue // never respond to one's own message
		}

		st.mu.Lock()
		agent, ok := st.agents[agentID]
		st.mu.Unlock()
		if !ok {
			continue
		}

		if p.eligible(st, agent, sender, mentions, restricting) {
			eligible = append(eligible, agentID)
		}
	}
	if len(eligible) == 0 {
		return
	}

	// One dispatch goroutine per message event, running each eligible
	// agent's response in turn: within a world processing is serialized,
	// and every eligible agent gets its turn rather than racing for a
	// single slot. The turn limit is re-checked per agent inside
	// processAgentResponse, since earlier responses consume the budget.
	chatID := ev.Message.ChatID
	go func() {
		for _, agentID := range eligible {
			p.processAgentResponse(context.Background(), st, agentID, chatID)
		}
	}()
}

type senderInfo struct {
	kind types.SenderKind
	id   string // populated when kind == SenderAgent
}

// classifySender determines whether a message came from a human, a
// registered agent, or the system. Unknown senders are treated as human.
func classifySender(st *worldState, sender string) senderInfo {
	switch sender {
	case "human":
		return senderInfo{kind: types.SenderHuman}
	case "system":
		return senderInfo{kind: types.SenderSystem}
	default:
		st.mu.Lock()
		_, isAgent := st.agents[sender]
		st.mu.Unlock()
		if isAgent {
			return senderInfo{kind: types.SenderAgent, id: sender}
		}
		return senderInfo{kind: types.SenderHuman}
	}
}

// eligible decides whether agent responds to a message, checking in
// order: mention targeting first, then human-sender-plus-mainAgent,
// then agent-sender-plus-autoReply-with-no-restricting-mentions. Only
// paragraph-beginning mentions count as restricting the audience (see
// mentions.go); a mention anywhere targets an agent.
func (p *Processor) eligible(st *worldState, agent *types.Agent, sender senderInfo, mentions, restricting []string) bool {
	if mentionsAgent(mentions, agent) {
		return true
	}

	if sender.kind == types.SenderHuman && p.isMainAgent(st, agent) {
		return true
	}

	if sender.kind == types.SenderAgent && agent.AutoReply && len(restricting) == 0 {
		return true
	}

	return false
}

// isMainAgent reports whether agent is the world's configured mainAgent,
// or, when mainAgent is unset, the conventional default: the sole agent
// of type "primary" in the world.
func (p *Processor) isMainAgent(st *worldState, agent *types.Agent) bool {
	st.mu.Lock()
	mainAgent := st.world.MainAgent
	st.mu.Unlock()

	if mainAgent != "" {
		return idutil.KebabCase(mainAgent) == idutil.KebabCase(agent.ID) || mainAgent == agent.ID
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var primaryCount int
	var solePrimary string
	for _, a := range st.agents {
		if a.Type == "primary" {
			primaryCount++
			solePrimary = a.ID
		}
	}
	return primaryCount == 1 && solePrimary == agent.ID
}

// withinTurnLimit reports whether the world's aggregate llm call count
// is still below its turn limit.
func (p *Processor) withinTurnLimit(st *worldState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	var sum int
	for _, a := range st.agents {
		sum += a.LLMCallCount
	}
	return sum < st.world.TurnLimit
}

// processAgentResponse runs one agent's full response: guard the world,
// assemble the message list, call the model (looping through tool
// rounds), and publish the result or the failure.
func (p *Processor) processAgentResponse(ctx context.Context, st *worldState, agentID, chatID string) {
	st.acquireProcessing()
	defer st.releaseProcessing()

	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	if !p.withinTurnLimit(st) {
		logger.G(ctx).WithField("world_id", worldID).WithField("agent_id", agentID).
			Debug("turn limit reached, agent skipped")
		return
	}

	ctx, release := p.rt.control.Begin(ctx, worldID, chatID)
	defer release()

	ctx = logger.WithAgent(logger.WithWorld(ctx, worldID), agentID)
	log := logger.G(ctx)

	st.mu.Lock()
	live, ok := st.agents[agentID]
	if !ok {
		st.mu.Unlock()
		log.Debug("agent removed before its turn, skipped")
		return
	}
	agent := *live
	mcpConfig := st.world.MCPConfig
	provider := agent.Provider
	if provider == "" {
		provider = st.world.ChatLLMProvider
	}
	model := agent.Model
	if model == "" {
		model = st.world.ChatLLMModel
	}
	st.mu.Unlock()

	tools, err := p.registry.GetMCPToolsForWorld(ctx, worldID, mcpConfig)
	if err != nil {
		log.WithError(err).Warn("failed to load mcp tools for world")
	}

	systemPrompt := agent.SystemPrompt
	if len(tools) > 0 {
		systemPrompt += "\n\nYou have access to external tools. Use them when they help answer the request."
	}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Info("agent processing canceled")
			return
		}

		messages, err := p.buildMessages(ctx, worldID, agentID, chatID)
		if err != nil {
			p.publishFailure(ctx, st, agentID, chatID, "", err)
			return
		}

		// The response's message id is allocated before the call so the
		// streaming start/chunk/end events and the persisted message all
		// carry the same id.
		messageID := idutil.NewMessageID()

		req := llmprovider.Request{
			Model:        model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
			MaxTokens:    agent.MaxTokens,
			Temperature:  agent.Temperature,
		}
		if p.Streaming {
			req.Stream = true
			req.OnChunk = func(delta string) {
				st.bus.Publish(ctx, types.NewSSEEvent(types.SSEPayload{
					AgentName: agent.Name,
					Type:      types.SSEChunk,
					Content:   delta,
					MessageID: messageID,
				}))
			}
			st.bus.Publish(ctx, types.NewSSEEvent(types.SSEPayload{
				AgentName: agent.Name,
				Type:      types.SSEStart,
				MessageID: messageID,
			}))
		}

		fut, err := p.queue.Add(ctx, agentID, worldID, func(taskCtx context.Context) (llmprovider.Response, error) {
			return p.router.Generate(taskCtx, provider, req)
		})
		if err != nil {
			p.publishFailure(ctx, st, agentID, chatID, messageID, err)
			return
		}
		resp, err := fut.Await(ctx)
		if err != nil {
			p.publishFailure(ctx, st, agentID, chatID, messageID, err)
			return
		}
		if p.Streaming {
			st.bus.Publish(ctx, types.NewSSEEvent(types.SSEPayload{
				AgentName: agent.Name,
				Type:      types.SSEEnd,
				MessageID: messageID,
				Usage:     resp.Usage,
			}))
		}

		st.mu.Lock()
		var updated types.Agent
		if a, ok := st.agents[agentID]; ok {
			a.LLMCallCount++
			a.LastLLMCall = time.Now()
			a.LastActive = a.LastLLMCall
			updated = *a
		}
		st.mu.Unlock()
		if err := p.rt.store.UpdateAgent(ctx, worldID, updated); err != nil {
			log.WithError(err).Warn("failed to persist agent turn count")
		}

		switch resp.Kind {
		case llmprovider.ResponseText:
			p.publishText(ctx, st, agentID, chatID, messageID, resp)
			return
		case llmprovider.ResponseToolCalls:
			if err := p.runToolCalls(ctx, st, agentID, chatID, resp); err != nil {
				p.publishFailure(ctx, st, agentID, chatID, messageID, err)
				return
			}
			continue
		default:
			p.publishFailure(ctx, st, agentID, chatID, messageID, types.NewError(types.ErrProviderError, "unrecognized llm response kind"))
			return
		}
	}

	p.publishFailure(ctx, st, agentID, chatID, "", types.NewError(types.ErrProviderError, "tool-call iteration ceiling reached"))
}

// buildMessages loads the agent's memory for the chat, filters
// client-only entries, and strips wrapper fields down to the
// provider-neutral shape.
func (p *Processor) buildMessages(ctx context.Context, worldID, agentID, chatID string) ([]llmprovider.Message, error) {
	memory, err := p.rt.store.GetMemory(ctx, worldID, agentID, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]llmprovider.Message, 0, len(memory))
	for _, m := range memory {
		if m.ClientOnly() {
			continue
		}
		out = append(out, llmprovider.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out, nil
}

// publishText persists the assistant reply and publishes it as a
// message event from the agent.
func (p *Processor) publishText(ctx context.Context, st *worldState, agentID, chatID, messageID string, resp llmprovider.Response) {
	content := p.applyMentionSanitizer(st, agentID, chatID, resp.Content)

	msg := types.AgentMessage{
		MessageID: messageID,
		Role:      types.RoleAssistant,
		Content:   content,
		Sender:    agentID,
		AgentID:   agentID,
		ChatID:    chatID,
		CreatedAt: time.Now(),
	}
	if err := p.rt.store.AppendMemory(ctx, st.world.ID, agentID, chatID, msg); err != nil {
		logger.G(ctx).WithField("agent_id", agentID).WithError(err).Error("failed to persist assistant message")
		return
	}

	st.bus.Publish(ctx, types.NewMessageEvent(types.MessagePayload{
		Content:   content,
		Sender:    agentID,
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Timestamp: msg.CreatedAt,
	}))
}

// applyMentionSanitizer implements step 5's "self-mention sanitizer and
// auto-mention-back rule": strip any mention of the responding agent
// itself, and if replying to another agent (not a human), append an
// auto-mention of that sender unless the response already mentions it.
func (p *Processor) applyMentionSanitizer(st *worldState, agentID, chatID, content string) string {
	content = stripSelfMention(content, agentID, st)

	lastSender, ok := p.lastMessageSender(st, agentID, chatID)
	if !ok || lastSender == "human" || lastSender == agentID {
		return content
	}
	st.mu.Lock()
	senderAgent, isAgent := st.agents[lastSender]
	st.mu.Unlock()
	if !isAgent {
		return content
	}
	if mentionsAgent(extractMentions(content), senderAgent) {
		return content
	}
	return content + " @" + senderAgent.ID
}

func (p *Processor) lastMessageSender(st *worldState, agentID, chatID string) (string, bool) {
	st.mu.Lock()
	agent, ok := st.agents[agentID]
	st.mu.Unlock()
	if !ok || len(agent.Memory) == 0 {
		return "", false
	}
	for i := len(agent.Memory) - 1; i >= 0; i-- {
		m := agent.Memory[i]
		if m.ChatID != chatID || m.ClientOnly() {
			continue
		}
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			return m.Sender, true
		}
	}
	return "", false
}

func stripSelfMention(content, agentID string, st *worldState) string {
	st.mu.Lock()
	agent, ok := st.agents[agentID]
	st.mu.Unlock()
	if !ok {
		return content
	}
	name := idutil.KebabCase(agent.Name)
	for _, tok := range []string{agentID, name} {
		if tok == "" {
			continue
		}
		content = strings.ReplaceAll(content, "@"+tok+" ", "")
		content = strings.ReplaceAll(content, "@"+tok, "")
	}
	return content
}

// runToolCalls records the model's tool request, executes each call in
// order, and appends the results to the agent's memory for the next
// model round.
func (p *Processor) runToolCalls(ctx context.Context, st *worldState, agentID, chatID string, resp llmprovider.Response) error {
	worldID := st.world.ID

	callMsg := types.AgentMessage{
		MessageID: idutil.NewMessageID(),
		Role:      types.RoleAssistant,
		Content:   resp.Content,
		Sender:    agentID,
		AgentID:   agentID,
		ChatID:    chatID,
		CreatedAt: time.Now(),
		ToolCalls: resp.ToolCalls,
	}
	if err := p.rt.store.AppendMemory(ctx, worldID, agentID, chatID, callMsg); err != nil {
		return err
	}

	st.mu.Lock()
	mcpConfig := st.world.MCPConfig
	st.mu.Unlock()

	executionID := uuid.NewString()
	for seq, call := range resp.ToolCalls {
		result, callErr := p.registry.CallToolForWorld(ctx, worldID, mcpConfig, call.Name, call.Arguments, mcpregistry.DispatchOptions{
			ExecutionID:  executionID,
			SequenceID:   seq,
			ParentCallID: call.ID,
		})
		content := result.Content
		if callErr != nil {
			content = callErr.Error()
		}
		toolMsg := types.AgentMessage{
			MessageID:  idutil.NewMessageID(),
			Role:       types.RoleTool,
			Content:    content,
			Sender:     "system",
			AgentID:    agentID,
			ChatID:     chatID,
			CreatedAt:  time.Now(),
			ToolCallID: call.ID,
		}
		if err := p.rt.store.AppendMemory(ctx, worldID, agentID, chatID, toolMsg); err != nil {
			return err
		}
	}

	return p.rt.refreshAgentMemory(ctx, st, agentID, chatID)
}

// publishFailure emits the sse error event and a system-scoped failure
// note for a processing error.
func (p *Processor) publishFailure(ctx context.Context, st *worldState, agentID, chatID, messageID string, err error) {
	logger.G(ctx).WithField("agent_id", agentID).WithError(err).Error("agent processing failed")

	msgID := messageID
	if msgID == "" {
		msgID = idutil.NewMessageID()
	}
	st.bus.Publish(ctx, types.NewSSEEvent(types.SSEPayload{
		AgentName: agentID,
		Type:      types.SSEError,
		MessageID: msgID,
		Err:       err.Error(),
	}))
	st.bus.Publish(ctx, types.NewSystemEvent(types.SystemPayload{
		Kind:   "agent-processing-failed",
		ChatID: chatID,
		Data: map[string]any{
			"agentId": agentID,
			"error":   err.Error(),
		},
	}))
}

// refreshAgentMemory reloads agentID's in-memory Memory field for chatID
// from storage, used after appending tool-call messages mid-loop and by
// the edit/resubmission flow.
func (r *Runtime) refreshAgentMemory(ctx context.Context, st *worldState, agentID, chatID string) error {
	memory, err := r.store.GetMemory(ctx, st.world.ID, agentID, chatID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if a, ok := st.agents[agentID]; ok {
		a.Memory = memory
	}
	st.mu.Unlock()
	return nil
}
