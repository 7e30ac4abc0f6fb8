package mcpregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_ServersKey(t *testing.T) {
	raw := `{"servers":{"fs":{"command":"mcp-fs","args":["--root","/tmp"]}}}`
	cfgs, err := ParseConfig(raw)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "fs", cfgs[0].Name)
	assert.Equal(t, TransportStdio, cfgs[0].Transport)
	assert.Equal(t, "mcp-fs", cfgs[0].Command)
}

func TestParseConfig_MCPServersKey(t *testing.T) {
	raw := `{"mcpServers":{"remote":{"url":"https://example.com/mcp","transport":"sse"}}}`
	cfgs, err := ParseConfig(raw)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, TransportSSE, cfgs[0].Transport)
}

func TestParseConfig_LegacyHTTPAlias(t *testing.T) {
	raw := `{"servers":{"remote":{"type":"http","url":"https://example.com/mcp"}}}`
	cfgs, err := ParseConfig(raw)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, TransportStreamableHTTP, cfgs[0].Transport)
}

func TestParseConfig_InferredTransport(t *testing.T) {
	raw := `{"servers":{"fs":{"command":"mcp-fs"},"remote":{"url":"https://example.com"}}}`
	cfgs, err := ParseConfig(raw)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
}

func TestParseConfig_InvalidRejectsWholeConfig(t *testing.T) {
	raw := `{"servers":{"bad":{"transport":"stdio"}}}` // missing required command
	_, err := ParseConfig(raw)
	require.Error(t, err)
}

func TestParseConfig_Empty(t *testing.T) {
	cfgs, err := ParseConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfgs)
}

func TestConfigHash_StableAndDistinguishing(t *testing.T) {
	a := ServerConfig{Name: "fs", Transport: TransportStdio, Command: "mcp-fs", Env: map[string]string{"A": "1", "B": "2"}}
	b := ServerConfig{Name: "fs", Transport: TransportStdio, Command: "mcp-fs", Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, ConfigHash(a), ConfigHash(b), "field ordering within a map must not affect the hash")

	c := ServerConfig{Name: "fs", Transport: TransportStdio, Command: "mcp-fs-other"}
	assert.NotEqual(t, ConfigHash(a), ConfigHash(c))
}
