package worldrt

import (
	"context"
	"time"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// CreateChat creates a new chat in worldIDOrName. An empty name
// defaults to the reusable "New Chat" title.
func (r *Runtime) CreateChat(ctx context.Context, worldIDOrName, name string) (types.Chat, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return types.Chat{}, err
	}
	if name == "" {
		name = types.DefaultChatName
	}

	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	now := time.Now()
	chat := types.Chat{
		ID:        idutil.NewChatID(now.UnixNano()),
		WorldID:   worldID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateChat(ctx, worldID, chat); err != nil {
		return types.Chat{}, err
	}

	st.mu.Lock()
	st.chats[chat.ID] = &chat
	bus := st.bus
	st.mu.Unlock()

	bus.Publish(ctx, types.NewCRUDEvent(types.CRUDPayload{
		Operation: types.CRUDCreate,
		Entity:    "chat",
		ID:        chat.ID,
	}))
	return chat, nil
}

// GetChat looks up chatID directly (chat ids are opaque time-ordered
// tokens, not kebab-cased names, so no alias resolution applies here).
func (r *Runtime) GetChat(ctx context.Context, worldIDOrName, chatID string) (types.Chat, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return types.Chat{}, err
	}
	st.mu.Lock()
	c, ok := st.chats[chatID]
	st.mu.Unlock()
	if !ok {
		return types.Chat{}, types.NewError(types.ErrChatNotFound, "chat not found: "+chatID)
	}
	return *c, nil
}

// ListChats returns every chat in worldIDOrName.
func (r *Runtime) ListChats(ctx context.Context, worldIDOrName string) ([]types.Chat, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]types.Chat, 0, len(st.chats))
	for _, c := range st.chats {
		out = append(out, *c)
	}
	return out, nil
}

// DeleteChat removes a chat in a fixed order: chat-scoped memory is
// deleted first, the crud.delete event is published while the chat id
// is still resolvable, then the chat row itself is removed. If the
// deleted chat was currentChatId, the most-recently-updated remaining
// chat becomes current; if none remain, a fresh default chat is
// created.
func (r *Runtime) DeleteChat(ctx context.Context, worldIDOrName, chatID string) error {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return err
	}

	st.mu.Lock()
	_, ok := st.chats[chatID]
	worldID := st.world.ID
	st.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrChatNotFound, "chat not found: "+chatID)
	}

	if err := r.store.DeleteMemoryByChatID(ctx, worldID, chatID); err != nil {
		return err
	}

	st.mu.Lock()
	bus := st.bus
	st.mu.Unlock()
	bus.Publish(ctx, types.NewCRUDEvent(types.CRUDPayload{
		Operation: types.CRUDDelete,
		Entity:    "chat",
		ID:        chatID,
	}))

	if err := r.store.DeleteChat(ctx, worldID, chatID); err != nil {
		return err
	}

	st.approvals.ForgetChat(chatID)

	st.mu.Lock()
	delete(st.chats, chatID)
	wasCurrent := st.world.CurrentChatID == chatID
	var mostRecent *types.Chat
	for _, c := range st.chats {
		if mostRecent == nil || c.UpdatedAt.After(mostRecent.UpdatedAt) {
			mostRecent = c
		}
	}
	st.mu.Unlock()

	if !wasCurrent {
		return nil
	}

	if mostRecent != nil {
		st.mu.Lock()
		st.world.CurrentChatID = mostRecent.ID
		w := st.world
		st.mu.Unlock()
		return r.store.UpdateWorld(ctx, w)
	}

	chat, err := r.ensureDefaultChat(ctx, st)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.world.CurrentChatID = chat.ID
	w := st.world
	st.mu.Unlock()
	return r.store.UpdateWorld(ctx, w)
}

// UpdateChatNameIfCurrent applies storage's compare-and-set rename,
// refreshing the in-memory chat record when applied.
func (r *Runtime) UpdateChatNameIfCurrent(ctx context.Context, worldIDOrName, chatID, expectedCurrentName, newName string) (bool, error) {
	st, err := r.resolve(ctx, worldIDOrName)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	worldID := st.world.ID
	st.mu.Unlock()

	applied, err := r.store.UpdateChatNameIfCurrent(ctx, worldID, chatID, expectedCurrentName, newName)
	if err != nil || !applied {
		return applied, err
	}

	st.mu.Lock()
	if c, ok := st.chats[chatID]; ok {
		c.Name = newName
		c.UpdatedAt = time.Now()
	}
	bus := st.bus
	st.mu.Unlock()

	bus.Publish(ctx, types.NewSystemEvent(types.SystemPayload{
		Kind:   "chat-title-updated",
		ChatID: chatID,
		Data:   map[string]any{"title": newName},
	}))
	return true, nil
}
