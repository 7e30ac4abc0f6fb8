package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/agentworld-dev/runtime/pkg/mcpregistry"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// OpenAIClient serves every OpenAI-compatible provider name (openai,
// azure, openai-compatible, xai, ollama): one wire client differing
// only by base URL and API key.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient constructs a client against baseURL (empty uses the
// SDK's default OpenAI endpoint).
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	messages := toOpenAIMessages(req)

	params := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
		params.ToolChoice = "auto"
	}

	if req.Stream && req.OnChunk != nil {
		return c.generateStreaming(ctx, params, req.OnChunk)
	}

	resp, err := c.client.CreateChatCompletion(ctx, params)
	if err != nil {
		return Response{}, types.WrapError(types.ErrProviderError, "openai request failed", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, types.NewError(types.ErrProviderError, "openai returned no choices")
	}
	return toResponseFromOpenAI(resp.Choices[0].Message, resp.Usage), nil
}

func (c *OpenAIClient) generateStreaming(ctx context.Context, params openai.ChatCompletionRequest, onChunk ChunkFunc) (Response, error) {
	params.Stream = true
	params.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return Response{}, types.WrapError(types.ErrProviderError, "openai stream request failed", err)
	}
	defer stream.Close()

	var content string
	var toolCalls []openai.ToolCall
	var usage openai.Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, types.WrapError(types.ErrProviderError, "openai stream failed", err)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				content += delta.Content
				onChunk(delta.Content)
			}
			for _, tc := range delta.ToolCalls {
				if tc.Index == nil {
					continue
				}
				idx := *tc.Index
				for len(toolCalls) <= idx {
					toolCalls = append(toolCalls, openai.ToolCall{})
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Type != "" {
					toolCalls[idx].Type = tc.Type
				}
				if tc.Function.Name != "" {
					toolCalls[idx].Function.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					toolCalls[idx].Function.Arguments += tc.Function.Arguments
				}
			}
		}
	}

	msg := openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
	return toResponseFromOpenAI(msg, usage), nil
}

func toResponseFromOpenAI(msg openai.ChatCompletionMessage, usage openai.Usage) Response {
	resp := Response{
		Kind:    ResponseText,
		Content: msg.Content,
		Usage: &types.Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}
	if len(msg.ToolCalls) == 0 {
		return resp
	}

	calls := make([]types.ToolCallRequest, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, types.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	resp.Kind = ResponseToolCalls
	resp.ToolCalls = calls
	return resp
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case types.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				argBytes, _ := json.Marshal(tc.Arguments)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argBytes),
					},
				})
			}
			out = append(out, msg)
		case types.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case types.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		}
	}
	return out
}

func toOpenAITools(tools []mcpregistry.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema.ToJSONSchema(),
			},
		}
	}
	return out
}
