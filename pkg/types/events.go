package types

import "time"

// EventKind tags the four event shapes carried on a world's event bus.
// A tagged sum type with per-kind payload structs keeps handlers
// strongly typed rather than switching on fields of one loose struct.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventSSE     EventKind = "sse"
	EventSystem  EventKind = "system"
	EventCRUD    EventKind = "crud"
)

// SSEType enumerates the streaming notification phases.
type SSEType string

const (
	SSEStart SSEType = "start"
	SSEChunk SSEType = "chunk"
	SSEEnd   SSEType = "end"
	SSEError SSEType = "error"
)

// CRUDOperation enumerates the lifecycle operations a crud event reports.
type CRUDOperation string

const (
	CRUDCreate CRUDOperation = "create"
	CRUDUpdate CRUDOperation = "update"
	CRUDDelete CRUDOperation = "delete"
)

// MessagePayload carries a chat message publication: a human message,
// a user edit's resubmission, or an agent reply.
type MessagePayload struct {
	Content   string
	Sender    string
	ChatID    string
	MessageID string
	Timestamp time.Time
}

// SSEPayload carries an LLM streaming notification.
type SSEPayload struct {
	AgentName string
	Type      SSEType
	Content   string
	MessageID string
	Err       string
	Usage     *Usage
}

// Usage is the optional token accounting attached to a provider
// response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// SystemPayload carries an opaque lifecycle notification, e.g.
// chat-title-updated.
type SystemPayload struct {
	Kind   string
	ChatID string
	Data   map[string]any
}

// CRUDPayload carries a create/update/delete notification for an
// entity.
type CRUDPayload struct {
	Operation CRUDOperation
	Entity    string // "world", "agent", "chat", ...
	ID        string
	Data      map[string]any
}

// Event is the tagged union published on a world's event bus. Exactly
// one of the payload fields is populated, selected by Kind.
type Event struct {
	Kind    EventKind
	Message *MessagePayload
	SSE     *SSEPayload
	System  *SystemPayload
	CRUD    *CRUDPayload
}

// NewMessageEvent builds a Kind=message Event.
func NewMessageEvent(p MessagePayload) Event { return Event{Kind: EventMessage, Message: &p} }

// NewSSEEvent builds a Kind=sse Event.
func NewSSEEvent(p SSEPayload) Event { return Event{Kind: EventSSE, SSE: &p} }

// NewSystemEvent builds a Kind=system Event.
func NewSystemEvent(p SystemPayload) Event { return Event{Kind: EventSystem, System: &p} }

// NewCRUDEvent builds a Kind=crud Event.
func NewCRUDEvent(p CRUDPayload) Event { return Event{Kind: EventCRUD, CRUD: &p} }
