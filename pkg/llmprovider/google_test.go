package llmprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

func TestBuildGooglePrompt_SystemAndToolRoundTrip(t *testing.T) {
	req := Request{
		SystemPrompt: "be terse",
		Messages: []Message{
			{Role: types.RoleUser, Content: "hi"},
			{
				Role:    types.RoleAssistant,
				Content: "checking",
				ToolCalls: []types.ToolCallRequest{
					{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "go"}},
				},
			},
			{Role: types.RoleTool, Content: `{"result":"ok"}`, ToolCallID: "search"},
		},
	}

	prompt := buildGooglePrompt(req)
	require.Len(t, prompt, 4)
}

func TestToGoogleTools_GroupsUnderSingleTool(t *testing.T) {
	tools := []mcpregistry.ToolDescriptor{
		{Name: "search", Description: "search the web", Schema: mcpregistry.ToolSchema{
			Properties: map[string]mcpregistry.PropertySchema{"q": {Type: "string"}},
			Required:   []string{"q"},
		}},
		{Name: "fetch", Description: "fetch a url"},
	}

	out := toGoogleTools(tools)
	require.Len(t, out, 1)
	assert.Len(t, out[0].FunctionDeclarations, 2)
}

func TestToGoogleTools_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, toGoogleTools(nil))
}

func TestToGoogleSchemaType(t *testing.T) {
	assert.Equal(t, "STRING", string(toGoogleSchemaType("string")))
	assert.Equal(t, "OBJECT", string(toGoogleSchemaType("object")))
	assert.Equal(t, "STRING", string(toGoogleSchemaType("unknown")))
}
