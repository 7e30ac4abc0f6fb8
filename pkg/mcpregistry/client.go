package mcpregistry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/agentworld-dev/runtime/pkg/version"
)

// MCPClient is the subset of *client.Client's behavior the registry
// depends on, narrowed to an interface so ToolCacheEntry/registry tests
// can substitute a fake transport without spinning up a real subprocess
// or socket.
type MCPClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// newTransportClient builds a *client.Client for cfg's transport.
func newTransportClient(cfg ServerConfig) (*client.Client, error) {
	switch cfg.Transport {
	case TransportStdio:
		envArgs := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			envArgs = append(envArgs, fmt.Sprintf("%s=%s", k, v))
		}
		tp := transport.NewStdio(cfg.Command, envArgs, cfg.Args...)
		return client.NewClient(tp), nil
	case TransportSSE:
		tp, err := transport.NewSSE(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		return client.NewClient(tp), nil
	case TransportStreamableHTTP:
		tp, err := transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		return client.NewClient(tp), nil
	default:
		return nil, errors.Errorf("unsupported mcp transport %q", cfg.Transport)
	}
}

// Connect builds and initializes a client for cfg: start the transport,
// then send the MCP initialize handshake.
func Connect(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	c, err := newTransportClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "agentworld-runtime",
		Version: version.Version,
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
