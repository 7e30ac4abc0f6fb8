package worldrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_PublishMessage_BroadcastsToEveryAgent(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "EW1")
	_, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Agent A"})
	require.NoError(t, err)
	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Agent B"})
	require.NoError(t, err)

	_, err = r.PublishMessage(ctx, w.ID, w.CurrentChatID, "hello team", "human")
	require.NoError(t, err)

	for _, agentID := range []string{"agent-a", "agent-b"} {
		a, err := r.GetAgent(ctx, w.ID, agentID)
		require.NoError(t, err)
		require.Len(t, a.Memory, 1)
		assert.Equal(t, "hello team", a.Memory[0].Content)
	}
}

func TestRuntime_EditUserMessage_RemovesAndResubmits(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "EW2")
	_, err := r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Agent A"})
	require.NoError(t, err)
	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Agent B"})
	require.NoError(t, err)

	original, err := r.PublishMessage(ctx, w.ID, w.CurrentChatID, "original content", "human")
	require.NoError(t, err)

	result, err := r.EditUserMessage(ctx, w.ID, original.MessageID, "edited content", w.CurrentChatID)
	require.NoError(t, err)
	assert.Equal(t, "success", result.ResubmissionStatus)
	assert.NotEmpty(t, result.NewMessageID)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, result.ProcessedAgents)
	assert.Empty(t, result.FailedAgents)
	assert.GreaterOrEqual(t, result.MessagesRemovedTotal, 2)

	for _, agentID := range []string{"agent-a", "agent-b"} {
		a, err := r.GetAgent(ctx, w.ID, agentID)
		require.NoError(t, err)
		require.Len(t, a.Memory, 1)
		assert.Equal(t, "edited content", a.Memory[0].Content)
	}
}

func TestRuntime_EditUserMessage_UnknownMessageIDFails(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "EW3")

	result, err := r.EditUserMessage(ctx, w.ID, "no-such-message", "content", w.CurrentChatID)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.ResubmissionStatus)
}

func TestRuntime_EditUserMessage_ResetsAutoGeneratedTitle(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	w := createTestWorld(t, r, "EW4")

	applied, err := r.UpdateChatNameIfCurrent(ctx, w.ID, w.CurrentChatID, "New Chat", "Auto: original content")
	require.NoError(t, err)
	require.True(t, applied)

	original, err := r.PublishMessage(ctx, w.ID, w.CurrentChatID, "original content", "human")
	require.NoError(t, err)

	_, err = r.EditUserMessage(ctx, w.ID, original.MessageID, "edited content", w.CurrentChatID)
	require.NoError(t, err)

	chat, err := r.GetChat(ctx, w.ID, w.CurrentChatID)
	require.NoError(t, err)
	assert.Equal(t, "New Chat", chat.Name)
}
