// editor.go covers the message-editing surface: publishing a new chat
// message and the edit-and-resubmit flow (EditUserMessage), including
// the two-pass cutoff removal algorithm and the auto-title reset. Built
// atop the ControlRegistry (control.go) and StorageAPI (pkg/storage).
package worldrt

import (
	"context"
	"time"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/storage"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// PublishMessage is the producer behind every human-originated chat
// message. The message is broadcast into every currently-registered
// agent's own per-chat memory sequence, since each agent's context for
// its next LLM call is assembled from its own stored memory
// (processor.buildMessages), not a single world-wide transcript.
func (r *Runtime) PublishMessage(ctx context.Context, worldIDOrName, chatID, content, sender string) (types.AgentMessage, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return types.AgentMessage{}, err
	}

	role := types.RoleUser
	if sender == "system" {
		role = types.RoleSystem
	}

	msg := types.AgentMessage{
		MessageID: idutil.NewMessageID(),
		Role:      role,
		Content:   content,
		Sender:    sender,
		ChatID:    chatID,
		CreatedAt: time.Now(),
	}

	st.mu.Lock()
	worldID := st.world.ID
	agentIDs := make([]string, 0, len(st.agents))
	for id := range st.agents {
		agentIDs = append(agentIDs, id)
	}
	bus := st.bus
	st.mu.Unlock()

	for _, agentID := range agentIDs {
		m := msg
		m.AgentID = agentID
		if err := r.store.AppendMemory(ctx, worldID, agentID, chatID, m); err != nil {
			return types.AgentMessage{}, err
		}
		if err := r.refreshAgentMemory(ctx, st, agentID, chatID); err != nil {
			logger.G(ctx).WithField("agent_id", agentID).WithError(err).Warn("failed to refresh agent memory after publish")
		}
	}

	bus.Publish(ctx, types.NewMessageEvent(types.MessagePayload{
		Content:   content,
		Sender:    sender,
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Timestamp: msg.CreatedAt,
	}))

	return msg, nil
}

// RemovalResult is EditUserMessage's return value.
type RemovalResult struct {
	TotalAgents          int
	ProcessedAgents      []string
	FailedAgents         []string
	MessagesRemovedTotal int
	ResubmissionStatus   string // "success" or "failed"
	NewMessageID         string
}

// EditUserMessage is the edit & resubmission flow:
//  1. cancel any in-flight processing for (worldID, chatID);
//  2. two-pass cutoff removal across every agent's memory (removeMessagesFrom);
//  3. reset an auto-generated chat title back to "New Chat";
//  4. refresh every runtime agent's in-memory state from storage;
//  5. re-subscribe the world's bus if it has no subscribers;
//  6. publish the edited content as a fresh message.
func (r *Runtime) EditUserMessage(ctx context.Context, worldIDOrName, messageID, newContent, chatID string) (RemovalResult, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return RemovalResult{}, err
	}

	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	r.control.Cancel(worldID, chatID)

	cutoff, found, err := r.findCutoff(ctx, st, messageID, chatID)
	if err != nil {
		return RemovalResult{}, err
	}
	if !found {
		return RemovalResult{ResubmissionStatus: "failed"}, nil
	}

	success, removed, err := r.store.RemoveMessagesFrom(ctx, worldID, chatID, cutoff)
	if err != nil {
		r.appendEditLog(worldID, messageID, newContent, chatID, "failed", err.Error())
		return RemovalResult{}, err
	}
	if !success {
		r.appendEditLog(worldID, messageID, newContent, chatID, "failed", "")
		return RemovalResult{ResubmissionStatus: "failed"}, nil
	}

	st.mu.Lock()
	agentIDs := make([]string, 0, len(st.agents))
	for id := range st.agents {
		agentIDs = append(agentIDs, id)
	}
	st.mu.Unlock()

	result := RemovalResult{
		TotalAgents:          len(agentIDs),
		MessagesRemovedTotal: removed,
	}
	for _, agentID := range agentIDs {
		if err := r.refreshAgentMemory(ctx, st, agentID, chatID); err != nil {
			result.FailedAgents = append(result.FailedAgents, agentID)
			continue
		}
		result.ProcessedAgents = append(result.ProcessedAgents, agentID)
	}

	r.maybeResetAutoTitle(ctx, st, chatID)
	st.approvals.ForgetChat(chatID)

	if st.bus.SubscriberCount() == 0 && r.processor != nil {
		st.bus.Subscribe(r.processor.handlerFor(worldID))
	}

	msg, err := r.PublishMessage(ctx, worldID, chatID, newContent, "human")
	if err != nil {
		result.ResubmissionStatus = "failed"
		r.appendEditLog(worldID, messageID, newContent, chatID, result.ResubmissionStatus, err.Error())
		return result, err
	}

	result.ResubmissionStatus = "success"
	result.NewMessageID = msg.MessageID
	r.appendEditLog(worldID, messageID, newContent, chatID, result.ResubmissionStatus, "")
	return result, nil
}

// findCutoff is the removal's first pass: the minimum CreatedAt across
// every agent's memory where a message matches (messageID, chatID).
func (r *Runtime) findCutoff(ctx context.Context, st *worldState, messageID, chatID string) (time.Time, bool, error) {
	st.mu.Lock()
	worldID := st.world.ID
	agentIDs := make([]string, 0, len(st.agents))
	for id := range st.agents {
		agentIDs = append(agentIDs, id)
	}
	st.mu.Unlock()

	var cutoff time.Time
	found := false
	for _, agentID := range agentIDs {
		memory, err := r.store.GetMemory(ctx, worldID, agentID, chatID)
		if err != nil {
			return time.Time{}, false, err
		}
		for _, m := range memory {
			if m.MessageID != messageID || m.ChatID != chatID {
				continue
			}
			if !found || m.CreatedAt.Before(cutoff) {
				cutoff = m.CreatedAt
				found = true
			}
		}
	}
	return cutoff, found, nil
}

// maybeResetAutoTitle resets the chat's title to "New Chat" only if the
// latest chat-title-updated system event's title still equals the
// chat's current name, i.e. the name was never subsequently
// user-edited.
func (r *Runtime) maybeResetAutoTitle(ctx context.Context, st *worldState, chatID string) {
	st.mu.Lock()
	chat, ok := st.chats[chatID]
	var currentName, lastEventTitle string
	var hasEvent bool
	if ok {
		currentName = chat.Name
	}
	if st.lastTitleEventTitle != nil {
		lastEventTitle, hasEvent = st.lastTitleEventTitle[chatID]
	}
	worldID := st.world.ID
	st.mu.Unlock()

	if !ok || !hasEvent || lastEventTitle != currentName {
		return
	}

	if _, err := r.UpdateChatNameIfCurrent(ctx, worldID, chatID, currentName, types.DefaultChatName); err != nil {
		logger.G(ctx).WithField("chat_id", chatID).WithError(err).Warn("failed to reset auto-generated chat title")
	}
}

// appendEditLog records the attempt in the bounded edit-errors.json
// ring when the storage backend exposes an EditLogWriter. Failure to
// record is logged only; it must not affect the caller's result.
func (r *Runtime) appendEditLog(worldID, messageID, newContent, chatID, status, resubErr string) {
	w, ok := r.store.(storage.EditLogWriter)
	if !ok {
		return
	}
	entry := storage.EditLogEntry{
		MessageID:          messageID,
		NewContent:         newContent,
		ChatID:             chatID,
		ResubmissionStatus: status,
		ResubmissionError:  resubErr,
		RecordedAt:         time.Now(),
	}
	if err := w.AppendEditLog(worldID, entry); err != nil {
		logger.G(context.Background()).WithField("world_id", worldID).WithError(err).
			Warn("failed to append edit log entry")
	}
}
