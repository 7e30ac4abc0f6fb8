package worldrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/types"
)

func createTestWorld(t *testing.T, r *Runtime, name string) types.World {
	t.Helper()
	w, err := r.CreateWorld(context.Background(), CreateWorldParams{Name: name})
	require.NoError(t, err)
	return w
}

func TestRuntime_CreateAgent_DefaultsAutoReplyTrue(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W1")

	a, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Researcher"})
	require.NoError(t, err)
	assert.Equal(t, "researcher", a.ID)
	assert.True(t, a.AutoReply)
	assert.Equal(t, "active", a.Status)
}

func TestRuntime_CreateAgent_RejectsDuplicate(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W2")

	_, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Writer"})
	require.NoError(t, err)
	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Writer"})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrDuplicate))
}

func TestRuntime_GetAgent_ResolvesByDisplayName(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W3")
	_, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Data Analyst"})
	require.NoError(t, err)

	a, err := r.GetAgent(ctx, w.ID, "Data Analyst")
	require.NoError(t, err)
	assert.Equal(t, "data-analyst", a.ID)
}

func TestRuntime_DeleteAgent(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W4")
	_, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Temp Agent"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteAgent(ctx, w.ID, "temp-agent"))
	_, err = r.GetAgent(ctx, w.ID, "temp-agent")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrAgentNotFound))
}

func TestRuntime_UpdateAgentMemoryAndClear(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W5")
	a, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Memo"})
	require.NoError(t, err)

	chats, err := r.ListChats(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	chatID := chats[0].ID

	msg := types.AgentMessage{MessageID: "m1", Role: types.RoleUser, Content: "hi", ChatID: chatID}
	require.NoError(t, r.UpdateAgentMemory(ctx, w.ID, a.ID, chatID, []types.AgentMessage{msg}))

	got, err := r.GetAgent(ctx, w.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Memory, 1)

	require.NoError(t, r.ClearAgentMemory(ctx, w.ID, a.ID))
	got, err = r.GetAgent(ctx, w.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Memory)
	assert.Equal(t, 0, got.LLMCallCount)

	// The clear must be durable, not just the cached Memory field: a
	// fresh storage read must come back empty too.
	stored, err := r.store.GetMemory(ctx, w.ID, a.ID, chatID)
	require.NoError(t, err)
	assert.Empty(t, stored, "cleared memory must be removed from storage")
}

func TestRuntime_AgentCRUD_RejectedWhileProcessing(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "W6")

	st, err := r.resolve(ctx, w.ID)
	require.NoError(t, err)
	st.acquireProcessing()
	defer st.releaseProcessing()

	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Blocked"})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrWorldProcessing))
}
