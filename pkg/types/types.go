// Package types defines the core domain entities of the agent-world
// runtime: worlds, agents, chats, and the messages exchanged between
// them. These are the shared vocabulary every other package (storage,
// event bus, LLM queue, MCP registry) builds on.
package types

import "time"

// World is an isolated namespace containing agents, chats, and tool
// configuration.
type World struct {
	ID              string // kebab-case, unique
	Name            string
	Description     string
	TurnLimit       int    // >= 1, default 5
	MainAgent       string // agent id; empty means unset
	ChatLLMProvider string
	ChatLLMModel    string
	MCPConfig       string // opaque JSON string, see mcpregistry.ParseConfig
	Variables       string // .env-style text
	CurrentChatID   string
	IsProcessing    bool
	CreatedAt       time.Time
	LastUpdated     time.Time
}

// DisplayName satisfies idutil.Resolve's nameOf accessor.
func (w World) DisplayName() string { return w.Name }

// DefaultTurnLimit is applied when a World is created without an
// explicit turn limit.
const DefaultTurnLimit = 5

// Agent is an LLM-backed participant within a world.
type Agent struct {
	ID           string
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	AutoReply    bool // default true
	Status       string
	Memory       []AgentMessage
	LLMCallCount int
	LastActive   time.Time
	LastLLMCall  time.Time
}

// DisplayName satisfies idutil.Resolve's nameOf accessor.
func (a Agent) DisplayName() string { return a.Name }

// Chat is a named conversation thread within a world. Agent memory is
// partitioned by ChatID.
type Chat struct {
	ID           string
	WorldID      string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// DefaultChatName is the reusable placeholder title assigned to
// auto-created chats and restored by the edit-cutoff flow when the
// chat's auto-generated title was never user-edited.
const DefaultChatName = "New Chat"

// MessageRole enumerates the roles an AgentMessage may carry.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// SenderKind classifies the origin of a message for the agent response
// decision.
type SenderKind string

const (
	SenderHuman  SenderKind = "human"
	SenderAgent  SenderKind = "agent"
	SenderSystem SenderKind = "system"
)

// ToolCallRequest is the provider-neutral shape of a single tool
// invocation requested by the model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// AgentMessage is a single entry in an agent's per-chat memory.
type AgentMessage struct {
	MessageID  string
	Role       MessageRole
	Content    string
	Sender     string // "human", an agent id, or "system"
	AgentID    string // the agent that owns this memory entry
	ChatID     string
	CreatedAt  time.Time
	ToolCalls  []ToolCallRequest // populated on assistant messages requesting tools
	ToolCallID string            // populated on tool-role messages responding to a call
}

// ClientOnly reports whether this message is a client-side-only
// artifact (e.g. an approval prompt) that must be filtered out of the
// message list sent to the provider. Such messages carry the synthetic
// "client-only" sender marker.
func (m AgentMessage) ClientOnly() bool {
	return m.Sender == ClientOnlySender
}

// ClientOnlySender marks a message that exists only for UI/approval
// purposes and must never be forwarded to an LLM provider.
const ClientOnlySender = "client-only"
