package llmprovider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// GoogleClient serves the Google provider partition: genai.ClientConfig
// backend selection (Gemini API vs Vertex AI), GenerateContentStream's
// range-over-func iteration, and a part-by-part response walk splitting
// text from FunctionCall parts.
type GoogleClient struct {
	client *genai.Client
}

// GoogleConfig selects between the Gemini API and Vertex AI backends.
type GoogleConfig struct {
	UseVertexAI bool
	APIKey      string
	Project     string
	Location    string
}

// NewGoogleClient constructs a client for either backend.
func NewGoogleClient(ctx context.Context, cfg GoogleConfig) (*GoogleClient, error) {
	clientConfig := &genai.ClientConfig{}
	if cfg.UseVertexAI {
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = cfg.Project
		clientConfig.Location = cfg.Location
	} else {
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderError, "failed to create google genai client", err)
	}
	return &GoogleClient{client: client}, nil
}

// Generate implements Client. Streaming and non-streaming both go
// through GenerateContentStream: the SDK exposes no separate
// non-streaming call site worth maintaining twice.
func (c *GoogleClient) Generate(ctx context.Context, req Request) (Response, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if tools := toGoogleTools(req.Tools); len(tools) > 0 {
		config.Tools = tools
	}

	prompt := buildGooglePrompt(req)

	resp := Response{Kind: ResponseText}
	var toolCalls []types.ToolCallRequest

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, req.Model, prompt, config) {
		if ctx.Err() != nil {
			return Response{}, types.WrapError(types.ErrProviderError, "google stream canceled", ctx.Err())
		}
		if err != nil {
			return Response{}, types.WrapError(types.ErrProviderError, "google stream failed", err)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			switch {
			case part.Text != "":
				resp.Content += part.Text
				if req.Stream && req.OnChunk != nil {
					req.OnChunk(part.Text)
				}
			case part.FunctionCall != nil:
				toolCalls = append(toolCalls, types.ToolCallRequest{
					ID:        generateGoogleToolCallID(len(toolCalls)),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
		if chunk.UsageMetadata != nil {
			resp.Usage = &types.Usage{
				InputTokens:  int(chunk.UsageMetadata.PromptTokenCount),
				OutputTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
			}
		}
	}

	if len(toolCalls) > 0 {
		resp.Kind = ResponseToolCalls
		resp.ToolCalls = toolCalls
	}
	return resp, nil
}

// generateGoogleToolCallID fabricates an ID: the Gemini API's
// FunctionCall parts carry no ID of their own, so one is assigned
// positionally on receipt.
func generateGoogleToolCallID(index int) string {
	return "google-tool-call-" + strconv.Itoa(index)
}

// buildGooglePrompt converts the provider-neutral message list into
// genai.Content: system prompt first (as a user-role content block,
// since the Gemini content API has no system role in this path), then
// each message's parts.
func buildGooglePrompt(req Request) []*genai.Content {
	var prompt []*genai.Content
	if req.SystemPrompt != "" {
		prompt = append(prompt, genai.NewContentFromParts(
			[]*genai.Part{genai.NewPartFromText(req.SystemPrompt)}, genai.RoleUser))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleUser, types.RoleSystem:
			if m.Content == "" {
				continue
			}
			prompt = append(prompt, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromText(m.Content)}, genai.RoleUser))
		case types.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(parts) > 0 {
				prompt = append(prompt, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case types.RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"result": m.Content}
			}
			prompt = append(prompt, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					Name:     m.ToolCallID,
					Response: result,
				},
			}}, genai.RoleUser))
		}
	}
	return prompt
}

func toGoogleTools(tools []mcpregistry.ToolDescriptor) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGoogleSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGoogleSchema(schema mcpregistry.ToolSchema) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			out.Properties[name] = toGooglePropertySchema(prop)
		}
	}
	if len(schema.Required) > 0 {
		out.Required = schema.Required
	}
	return out
}

func toGooglePropertySchema(prop mcpregistry.PropertySchema) *genai.Schema {
	out := &genai.Schema{
		Type:        toGoogleSchemaType(prop.Type),
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		out.Enum = prop.Enum
	}
	if prop.Items != nil {
		out.Items = toGooglePropertySchema(*prop.Items)
	}
	if prop.Minimum != nil {
		out.Minimum = prop.Minimum
	}
	if prop.Maximum != nil {
		out.Maximum = prop.Maximum
	}
	return out
}

func toGoogleSchemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
