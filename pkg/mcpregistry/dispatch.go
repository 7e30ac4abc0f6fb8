package mcpregistry

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// CallResult is the outcome of one tool-call dispatch: the extracted
// text content, preferring text parts over json parts over the raw
// serialized payload.
type CallResult struct {
	Content string
}

// DispatchOptions carries per-call tracing identifiers for structured
// logging.
type DispatchOptions struct {
	ExecutionID  string
	SequenceID   int
	ParentCallID string
}

// CallTool executes a single MCP tool call end to end: Ollama remap,
// argument coercion, submission through the entry's persistent client,
// MCP-format error detection, and reconnect-and-retry-once on
// connection-level failure.
func CallTool(ctx context.Context, entry *ToolCacheEntry, toolName string, rawArgs map[string]any, opts DispatchOptions) (CallResult, error) {
	desc, ok := entry.Tools[toolName]
	if !ok {
		return CallResult{}, types.NewError(types.ErrMCPToolError, "unknown tool "+toolName)
	}

	start := time.Now()
	log := logger.G(ctx).
		WithField("execution_id", opts.ExecutionID).
		WithField("sequence_id", opts.SequenceID).
		WithField("tool", toolName)
	if opts.ParentCallID != "" {
		log = log.WithField("parent_call_id", opts.ParentCallID)
	}

	args := RemapOllamaArgs(rawArgs, desc.Schema, desc.DeclOrder)
	args = CoerceArgs(args, desc.Schema)

	res, err := submitAndRetry(ctx, entry, toolName, args)
	log = log.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.WithError(err).Warn("mcp tool call failed")
		return CallResult{}, err
	}
	log.Debug("mcp tool call succeeded")
	return res, nil
}

// submitAndRetry submits the call once; on a connection-level error it
// reconnects via entry.ReconnectClient and retries exactly once. A
// second consecutive failure surfaces as MCPTransportError.
func submitAndRetry(ctx context.Context, entry *ToolCacheEntry, toolName string, args map[string]any) (CallResult, error) {
	res, err := submitOnce(ctx, entry.Client, toolName, args)
	if err == nil {
		return res, nil
	}
	if !isRetryable(err) {
		return CallResult{}, err
	}

	newClient, rerr := entry.ReconnectClient()
	if rerr != nil {
		return CallResult{}, types.WrapError(types.ErrMCPTransportError, "reconnect failed after connection error", rerr)
	}
	entry.Client = newClient

	res, err = submitOnce(ctx, entry.Client, toolName, args)
	if err != nil {
		if isMCPToolError(err) {
			return CallResult{}, err
		}
		return CallResult{}, types.WrapError(types.ErrMCPTransportError, "mcp call failed after reconnect", err)
	}
	return res, nil
}

// isRetryable reports whether err is a connection-level failure worth a
// reconnect, as opposed to an application-level MCPToolError, which is
// never retried.
func isRetryable(err error) bool {
	if isMCPToolError(err) {
		return false
	}
	return IsConnectionError(err.Error())
}

func isMCPToolError(err error) bool {
	return types.Is(err, types.ErrMCPToolError)
}

// submitOnce performs one call through the client handle, raising
// MCP-format errors (isError:true) as failures and extracting result
// content otherwise.
func submitOnce(ctx context.Context, c MCPClient, toolName string, args map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, err // connection-level: surfaced for isRetryable to classify
	}
	if result.IsError {
		return CallResult{}, types.NewError(types.ErrMCPToolError, extractContent(result))
	}
	return CallResult{Content: extractContent(result)}, nil
}

// extractContent prefers text parts, then json parts, else the
// serialized payload.
func extractContent(result *mcp.CallToolResult) string {
	var textParts, other []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			textParts = append(textParts, v.Text)
		default:
			other = append(other, renderContent(c))
		}
	}
	if len(textParts) > 0 {
		return strings.Join(textParts, "\n")
	}
	if len(other) > 0 {
		return strings.Join(other, "\n")
	}
	return ""
}

func renderContent(c mcp.Content) string {
	type jsonish interface{ MarshalJSON() ([]byte, error) }
	if j, ok := c.(jsonish); ok {
		if b, err := j.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return ""
}
