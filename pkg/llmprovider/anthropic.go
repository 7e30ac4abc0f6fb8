package llmprovider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// AnthropicClient implements Client against the Anthropic Messages API:
// anthropic.MessageNewParams construction (System/Messages/Model/Tools),
// NewUserMessage/NewToolResultBlock for round-tripping tool results, and
// the AsAny() content-block switch for reading back TextBlock/
// ToolUseBlock.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient constructs a client authenticated with apiKey. An
// empty baseURL uses the SDK's default endpoint.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return Response{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	if req.Stream && req.OnChunk != nil {
		return c.generateStreaming(ctx, params, req.OnChunk)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, types.WrapError(types.ErrProviderError, "anthropic request failed", err)
	}
	return toResponse(msg), nil
}

func (c *AnthropicClient) generateStreaming(ctx context.Context, params anthropic.MessageNewParams, onChunk ChunkFunc) (Response, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			// Best-effort per the SDK's known issue with complex tool-call
			// payloads confusing the accumulator: skip this event rather
			// than losing all streamed progress so far.
			continue
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				onChunk(textDelta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, types.WrapError(types.ErrProviderError, "anthropic stream failed", err)
	}
	return toResponse(&acc), nil
}

func toResponse(msg *anthropic.Message) Response {
	resp := Response{Kind: ResponseText}
	var toolCalls []types.ToolCallRequest
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if raw := variant.JSON.Input.Raw(); raw != "" {
				_ = json.Unmarshal([]byte(raw), &args)
			}
			toolCalls = append(toolCalls, types.ToolCallRequest{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	if len(toolCalls) > 0 {
		resp.Kind = ResponseToolCalls
		resp.ToolCalls = toolCalls
	}
	resp.Usage = &types.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp
}

func toAnthropicMessages(msgs []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case types.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
				if m.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(m.Content))
				}
				for _, tc := range m.ToolCalls {
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
				}
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			} else {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		case types.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case types.RoleSystem:
			// System messages are carried via MessageNewParams.System, not
			// the Messages slice (handled by the caller); skip here.
		default:
			return nil, errors.Errorf("unsupported message role: %s", m.Role)
		}
	}
	return out, nil
}

func toAnthropicTools(tools []mcpregistry.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := t.Schema.ToJSONSchema()
		props, _ := schema["properties"].(map[string]any)
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
				},
			},
		}
	}
	return out
}
