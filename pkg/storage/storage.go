// Package storage implements the pluggable StorageAPI: world, agent,
// and chat CRUD, per-chat message memory, and the edit/resubmit support
// operations (ArchiveMemory, ValidateIntegrity, RepairData,
// DeleteMemoryByChatID, UpdateChatNameIfCurrent, and the idempotent
// messageId backfill GetMemory performs). Two backends are provided:
// SQLiteStore (modernc.org/sqlite, WAL-mode pragmas) and FileStore
// (fsnotify-watched JSON files with an in-memory cache).
package storage

import (
	"context"
	"time"

	"github.com/agentworld-dev/runtime/pkg/types"
)

// ChatSnapshot is a point-in-time view of a chat's metadata without its
// memory, returned by per-world chat listing operations.
type ChatSnapshot struct {
	Chat         types.Chat
	LastActivity time.Time
}

// IntegrityReport is returned by ValidateIntegrity: problems found in a
// world's stored data, in a form RepairData can act on.
type IntegrityReport struct {
	WorldID             string
	OrphanedMessages    []string // messageIds referencing a chatId that no longer exists
	MissingMessageIDs   int      // count of memory rows still missing messageId at validation time
	DuplicateMessageIDs []string
}

// Healthy reports whether the report found no problems.
func (r IntegrityReport) Healthy() bool {
	return len(r.OrphanedMessages) == 0 && r.MissingMessageIDs == 0 && len(r.DuplicateMessageIDs) == 0
}

// StorageAPI is the storage-backend-agnostic interface every component
// above it depends on.
type StorageAPI interface {
	// World CRUD.
	CreateWorld(ctx context.Context, w types.World) error
	GetWorld(ctx context.Context, id string) (types.World, bool, error)
	UpdateWorld(ctx context.Context, w types.World) error
	DeleteWorld(ctx context.Context, id string) error
	ListWorlds(ctx context.Context) ([]types.World, error)

	// Agent CRUD, scoped to a world.
	CreateAgent(ctx context.Context, worldID string, a types.Agent) error
	GetAgent(ctx context.Context, worldID, agentID string) (types.Agent, bool, error)
	UpdateAgent(ctx context.Context, worldID string, a types.Agent) error
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]types.Agent, error)

	// Chat CRUD, scoped to a world.
	CreateChat(ctx context.Context, worldID string, c types.Chat) error
	GetChat(ctx context.Context, worldID, chatID string) (types.Chat, bool, error)
	ListChats(ctx context.Context, worldID string) ([]ChatSnapshot, error)
	DeleteChat(ctx context.Context, worldID, chatID string) error
	// UpdateChatNameIfCurrent is a compare-and-set rename: it is
	// applied only if the chat's current name still equals
	// expectedCurrentName.
	UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expectedCurrentName, newName string) (applied bool, err error)

	// Per-chat, per-agent memory. Each agent maintains its own memory
	// sequence for a chat (agents in the same chat may hold divergent
	// message sets), so memory operations are keyed by (worldID,
	// agentID, chatID).
	//
	// GetMemory returns messages in insertion order. Any legacy rows
	// missing messageId are backfilled via an idempotent
	// MigrateMessageIDs pass before being returned.
	GetMemory(ctx context.Context, worldID, agentID, chatID string) ([]types.AgentMessage, error)
	AppendMemory(ctx context.Context, worldID, agentID, chatID string, msgs ...types.AgentMessage) error
	// RemoveMessagesFrom deletes every message at or after cutoff
	// (by CreatedAt) in chatID across every agent's memory, returning
	// the total removed. A nonexistent chatID yields
	// (success=false, 0, nil) without mutation.
	RemoveMessagesFrom(ctx context.Context, worldID, chatID string, cutoff time.Time) (success bool, messagesRemoved int, err error)
	DeleteMemoryByChatID(ctx context.Context, worldID, chatID string) error
	// DeleteAgentMemory removes one agent's memory across every chat in
	// the world, backing clearAgentMemory's durable reset.
	DeleteAgentMemory(ctx context.Context, worldID, agentID string) error
	ArchiveMemory(ctx context.Context, worldID, agentID string, msgs []types.AgentMessage) error

	ValidateIntegrity(ctx context.Context, worldID string) (IntegrityReport, error)
	RepairData(ctx context.Context, worldID string, report IntegrityReport) error

	Close() error
}
