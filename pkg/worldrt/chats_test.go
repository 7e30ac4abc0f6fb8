package worldrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/types"
)

func TestRuntime_CreateChat_DefaultsName(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "CW1")

	c, err := r.CreateChat(ctx, w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultChatName, c.Name)
}

func TestRuntime_GetChat_NotFound(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "CW2")

	_, err := r.GetChat(ctx, w.ID, "no-such-chat")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrChatNotFound))
}

func TestRuntime_DeleteChat_ReassignsCurrentChat(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "CW3")

	second, err := r.CreateChat(ctx, w.ID, "Second Chat")
	require.NoError(t, err)

	require.NoError(t, r.DeleteChat(ctx, w.ID, w.CurrentChatID))

	updated, err := r.GetWorld(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, updated.CurrentChatID)
}

func TestRuntime_DeleteChat_LastChatRecreatesDefault(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "CW4")

	require.NoError(t, r.DeleteChat(ctx, w.ID, w.CurrentChatID))

	chats, err := r.ListChats(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.NotEqual(t, w.CurrentChatID, chats[0].ID)

	updated, err := r.GetWorld(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, chats[0].ID, updated.CurrentChatID)
}

func TestRuntime_UpdateChatNameIfCurrent_CASSemantics(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "CW5")

	applied, err := r.UpdateChatNameIfCurrent(ctx, w.ID, w.CurrentChatID, "wrong expected name", "New Title")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = r.UpdateChatNameIfCurrent(ctx, w.ID, w.CurrentChatID, types.DefaultChatName, "New Title")
	require.NoError(t, err)
	assert.True(t, applied)

	chat, err := r.GetChat(ctx, w.ID, w.CurrentChatID)
	require.NoError(t, err)
	assert.Equal(t, "New Title", chat.Name)
}
