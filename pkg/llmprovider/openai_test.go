package llmprovider

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

func TestToOpenAIMessages_IncludesSystemPromptFirst(t *testing.T) {
	req := Request{
		SystemPrompt: "be terse",
		Messages: []Message{
			{Role: types.RoleUser, Content: "hi"},
			{
				Role:    types.RoleAssistant,
				Content: "ok",
				ToolCalls: []types.ToolCallRequest{
					{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "go"}},
				},
			},
			{Role: types.RoleTool, Content: "result", ToolCallID: "call_1"},
		},
	}

	out := toOpenAIMessages(req)
	require.Len(t, out, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, "be terse", out[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, out[1].Role)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "search", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[3].ToolCallID)
}

func TestToOpenAITools_TranslatesSchema(t *testing.T) {
	tools := []mcpregistry.ToolDescriptor{
		{Name: "search", Description: "search the web", Schema: mcpregistry.ToolSchema{}},
	}
	out := toOpenAITools(tools)
	require.Len(t, out, 1)
	assert.Equal(t, openai.ToolTypeFunction, out[0].Type)
	assert.Equal(t, "search", out[0].Function.Name)
}

func TestToResponseFromOpenAI_TextOnly(t *testing.T) {
	resp := toResponseFromOpenAI(openai.ChatCompletionMessage{Content: "hello"}, openai.Usage{PromptTokens: 3, CompletionTokens: 5})
	assert.Equal(t, ResponseText, resp.Kind)
	assert.Equal(t, "hello", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestToResponseFromOpenAI_ToolCalls(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		ToolCalls: []openai.ToolCall{
			{ID: "call_1", Function: openai.FunctionCall{Name: "search", Arguments: `{"q":"go"}`}},
		},
	}
	resp := toResponseFromOpenAI(msg, openai.Usage{})
	assert.Equal(t, ResponseToolCalls, resp.Kind)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, "go", resp.ToolCalls[0].Arguments["q"])
}
