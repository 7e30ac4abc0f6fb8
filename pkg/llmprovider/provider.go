// Package llmprovider implements provider dispatch and a thin,
// request/response-translation-only client per provider family
// (anthropic-sdk-go, sashabaranov/go-openai, google.golang.org/genai).
// Each client turns a provider-neutral Request into the wire call and
// translates the wire response back into the tagged Response union the
// agent processor consumes.
package llmprovider

import (
	"context"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// Message is the provider-neutral message shape the agent processor
// builds from an agent's memory before dispatch, with sender/chatId
// wrapper fields already stripped.
type Message struct {
	Role       types.MessageRole
	Content    string
	ToolCalls  []types.ToolCallRequest
	ToolCallID string
}

// ResponseKind tags the Response union.
type ResponseKind string

const (
	ResponseText      ResponseKind = "text"
	ResponseToolCalls ResponseKind = "tool_calls"
)

// Response is a provider call's result: exactly one of Content (when
// Kind is text) or ToolCalls (when Kind is tool_calls) is meaningful.
type Response struct {
	Kind      ResponseKind
	Content   string
	ToolCalls []types.ToolCallRequest
	Usage     *types.Usage
}

// ChunkFunc is invoked once per streaming delta; the caller wires it to
// publish sse chunk events.
type ChunkFunc func(delta string)

// Request is the provider-neutral call a Client.Generate executes.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []mcpregistry.ToolDescriptor
	MaxTokens    int
	Temperature  float64
	Stream       bool
	OnChunk      ChunkFunc
}

// Client is implemented by each provider family's wrapper.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ProviderGroup partitions provider names into the client family that
// serves them: OpenAI-compatible (OpenAI, Azure, OpenAI-Compatible,
// XAI, Ollama), Anthropic, or Google.
type ProviderGroup string

const (
	GroupOpenAICompatible ProviderGroup = "openai-compatible"
	GroupAnthropic        ProviderGroup = "anthropic"
	GroupGoogle           ProviderGroup = "google"
)

// openAICompatibleProviders is the set of provider names routed through
// the OpenAI-compatible client: one wire client, differing base
// URL/headers/model per provider.
var openAICompatibleProviders = map[string]bool{
	"openai":            true,
	"azure":             true,
	"openai-compatible": true,
	"xai":               true,
	"ollama":            true,
}

// ClassifyProvider maps a World/Agent's provider name to the group that
// serves it, or UnsupportedProvider if the name matches none of the
// three partitions.
func ClassifyProvider(name string) (ProviderGroup, error) {
	switch {
	case openAICompatibleProviders[name]:
		return GroupOpenAICompatible, nil
	case name == "anthropic":
		return GroupAnthropic, nil
	case name == "google":
		return GroupGoogle, nil
	default:
		return "", types.NewError(types.ErrUnsupportedProvider, "unsupported provider: "+name)
	}
}

