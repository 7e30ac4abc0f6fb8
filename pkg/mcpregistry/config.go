// Package mcpregistry implements the process-global MCP (Model Context
// Protocol) server registry: refcounted subprocess lifecycle, tool
// schema normalization for LLM-provider compatibility, a TTL/config-hash
// tool cache, and reconnect-and-retry tool-call dispatch. Server
// instances are shared across worlds by config hash.
package mcpregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/agentworld-dev/runtime/pkg/types"
)

// TransportKind enumerates the three accepted wire transports, after
// the "http"->"streamable-http" legacy alias has been applied.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServerConfig is one entry of a World's parsed MCP configuration.
// Command/Args/Env apply to stdio; URL/Headers apply to sse and
// streamable-http.
type ServerConfig struct {
	Name      string
	Transport TransportKind
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
}

// rawServerConfig mirrors the JSON grammar's three shapes (stdio entry,
// sse/streamable-http entry with "transport", and the legacy "type"
// entry) in one permissive struct; unknown fields are ignored.
type rawServerConfig struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Transport string            `json:"transport"`
	Type      string            `json:"type"`
}

// rawConfig accepts either top-level key the grammar allows.
type rawConfig struct {
	Servers    map[string]rawServerConfig `json:"servers"`
	MCPServers map[string]rawServerConfig `json:"mcpServers"`
}

// ParseConfig parses a World's opaque mcpConfig JSON string into a list
// of ServerConfig. A single invalid entry rejects the whole config with
// a typed ConfigParseError. An empty input is not an error: it yields
// no servers.
func ParseConfig(raw string) ([]ServerConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var rc rawConfig
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		return nil, types.WrapError(types.ErrConfigParseError, "invalid mcp config json", err)
	}
	servers := rc.Servers
	if len(servers) == 0 {
		servers = rc.MCPServers
	}
	out := make([]ServerConfig, 0, len(servers))
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry := servers[name]
		cfg, err := normalizeServerConfig(name, entry)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigParseError, "invalid mcp server config for "+name, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// normalizeServerConfig resolves transport (honoring the legacy "type"
// field and the http->streamable-http alias) and validates that the
// fields the chosen transport requires are present.
func normalizeServerConfig(name string, raw rawServerConfig) (ServerConfig, error) {
	transport := raw.Transport
	if transport == "" {
		transport = raw.Type
	}
	if transport == "" {
		switch {
		case raw.Command != "":
			transport = string(TransportStdio)
		case raw.URL != "":
			transport = string(TransportSSE)
		default:
			return ServerConfig{}, errors.New("server_type/transport is required")
		}
	}
	if transport == "http" {
		transport = string(TransportStreamableHTTP)
	}

	cfg := ServerConfig{
		Name:      name,
		Transport: TransportKind(transport),
		Command:   raw.Command,
		Args:      raw.Args,
		Env:       raw.Env,
		URL:       raw.URL,
		Headers:   raw.Headers,
	}

	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return ServerConfig{}, errors.New("command is required for stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if cfg.URL == "" {
			return ServerConfig{}, errors.New("url is required for sse/streamable-http transport")
		}
	default:
		return ServerConfig{}, errors.Errorf("unsupported transport %q", transport)
	}
	return cfg, nil
}

// ConfigHash computes the SHA256 of the config's normalized form with
// stable field ordering, so two textually different but semantically
// equal configs share one server instance.
func ConfigHash(cfg ServerConfig) string {
	var b strings.Builder
	b.WriteString("transport=")
	b.WriteString(string(cfg.Transport))
	b.WriteString("\ncommand=")
	b.WriteString(cfg.Command)
	b.WriteString("\nargs=")
	for _, a := range cfg.Args {
		b.WriteString(a)
		b.WriteByte(',')
	}
	b.WriteString("\nenv=")
	writeSortedMap(&b, cfg.Env)
	b.WriteString("\nurl=")
	b.WriteString(cfg.URL)
	b.WriteString("\nheaders=")
	writeSortedMap(&b, cfg.Headers)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSortedMap(b *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte(';')
	}
}
