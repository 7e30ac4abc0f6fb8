package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/types"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStore_WorldCRUD(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	w := types.World{ID: "w1", Name: "World One", TurnLimit: 5, CreatedAt: time.Now(), LastUpdated: time.Now()}
	require.NoError(t, s.CreateWorld(ctx, w))

	got, ok, err := s.GetWorld(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "World One", got.Name)

	got.Description = "updated"
	require.NoError(t, s.UpdateWorld(ctx, got))

	got2, _, err := s.GetWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got2.Description)

	all, err := s.ListWorlds(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteWorld(ctx, "w1"))
	_, ok, err = s.GetWorld(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_UpdateWorld_NotFound(t *testing.T) {
	s := newTestFileStore(t)
	err := s.UpdateWorld(context.Background(), types.World{ID: "missing"})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrWorldNotFound))
}

func TestFileStore_AgentCRUD(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))

	a := types.Agent{ID: "agent-a", Name: "Agent A", AutoReply: true}
	require.NoError(t, s.CreateAgent(ctx, "w1", a))

	got, ok, err := s.GetAgent(ctx, "w1", "agent-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Agent A", got.Name)

	got.Status = "idle"
	require.NoError(t, s.UpdateAgent(ctx, "w1", got))

	list, err := s.ListAgents(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "idle", list[0].Status)

	require.NoError(t, s.DeleteAgent(ctx, "w1", "agent-a"))
	_, ok, err = s.GetAgent(ctx, "w1", "agent-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_MemoryAppendAndGet(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))
	require.NoError(t, s.CreateChat(ctx, "w1", types.Chat{ID: "c1", WorldID: "w1", Name: "Chat"}))

	m1 := types.AgentMessage{MessageID: "m1", Role: types.RoleUser, Content: "hi", ChatID: "c1", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMemory(ctx, "w1", "agent-a", "c1", m1))

	got, err := s.GetMemory(ctx, "w1", "agent-a", "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
}

func TestFileStore_GetMemory_BackfillsMissingMessageID(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))
	require.NoError(t, s.CreateChat(ctx, "w1", types.Chat{ID: "c1", WorldID: "w1"}))

	s.mu.Lock()
	s.memory["w1"] = map[string][]types.AgentMessage{
		memKey("agent-a", "c1"): {{Role: types.RoleUser, Content: "legacy", ChatID: "c1", CreatedAt: time.Now()}},
	}
	s.mu.Unlock()

	got, err := s.GetMemory(ctx, "w1", "agent-a", "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].MessageID)

	again, err := s.GetMemory(ctx, "w1", "agent-a", "c1")
	require.NoError(t, err)
	assert.Equal(t, got[0].MessageID, again[0].MessageID, "backfill must be idempotent")
}

func TestFileStore_RemoveMessagesFrom(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))
	require.NoError(t, s.CreateChat(ctx, "w1", types.Chat{ID: "c1", WorldID: "w1"}))

	base := time.Now()
	early := types.AgentMessage{MessageID: "m1", ChatID: "c1", CreatedAt: base}
	late := types.AgentMessage{MessageID: "m2", ChatID: "c1", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.AppendMemory(ctx, "w1", "agent-a", "c1", early, late))

	success, removed, err := s.RemoveMessagesFrom(ctx, "w1", "c1", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, 1, removed)

	remaining, err := s.GetMemory(ctx, "w1", "agent-a", "c1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "m1", remaining[0].MessageID)
}

func TestFileStore_DeleteAgentMemory(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))
	require.NoError(t, s.CreateChat(ctx, "w1", types.Chat{ID: "c1", WorldID: "w1"}))

	msg := types.AgentMessage{MessageID: "m1", ChatID: "c1", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMemory(ctx, "w1", "agent-a", "c1", msg))
	require.NoError(t, s.AppendMemory(ctx, "w1", "agent-b", "c1", msg))

	require.NoError(t, s.DeleteAgentMemory(ctx, "w1", "agent-a"))

	gone, err := s.GetMemory(ctx, "w1", "agent-a", "c1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := s.GetMemory(ctx, "w1", "agent-b", "c1")
	require.NoError(t, err)
	assert.Len(t, kept, 1, "other agents' memory must be untouched")
}

func TestFileStore_RemoveMessagesFrom_UnknownChat(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))

	success, removed, err := s.RemoveMessagesFrom(ctx, "w1", "no-such-chat", time.Now())
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, 0, removed)
}

func TestFileStore_UpdateChatNameIfCurrent(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))
	require.NoError(t, s.CreateChat(ctx, "w1", types.Chat{ID: "c1", WorldID: "w1", Name: types.DefaultChatName}))

	applied, err := s.UpdateChatNameIfCurrent(ctx, "w1", "c1", "some other name", "New Title")
	require.NoError(t, err)
	assert.False(t, applied, "CAS must not apply when expected name doesn't match")

	applied, err = s.UpdateChatNameIfCurrent(ctx, "w1", "c1", types.DefaultChatName, "New Title")
	require.NoError(t, err)
	assert.True(t, applied)

	chat, _, err := s.GetChat(ctx, "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", chat.Name)
}

func TestFileStore_ArchiveMemoryAndIntegrity(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))

	msgs := []types.AgentMessage{{MessageID: "m1", ChatID: "c1", CreatedAt: time.Now()}}
	require.NoError(t, s.ArchiveMemory(ctx, "w1", "agent-a", msgs))

	report, err := s.ValidateIntegrity(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestFileStore_EditLogWriter(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))

	var w EditLogWriter = s
	require.NoError(t, w.AppendEditLog("w1", EditLogEntry{
		MessageID:          "m1",
		NewContent:         "edited",
		ChatID:             "c1",
		ResubmissionStatus: "success",
		RecordedAt:         time.Now(),
	}))

	entries, err := NewEditLog(s.worldDir("w1")).All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "edited", entries[0].NewContent)
}

func TestFileStore_EventStorage(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Name: "w1"}))

	var es EventStorage = s
	require.NoError(t, es.AppendEvent(ctx, "w1", types.NewSystemEvent(types.SystemPayload{Kind: "x"})))
}
