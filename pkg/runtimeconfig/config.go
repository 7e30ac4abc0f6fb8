// Package runtimeconfig holds the process-wide tunables for the LLM
// queue and MCP registry services, read from viper with defaults for
// unset keys. Per-world configuration (mcpConfig, variables) stays on
// the World entity as opaque text, not in viper.
package runtimeconfig

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when the corresponding viper keys are unset.
const (
	DefaultMaxQueueSize      = 100
	DefaultProcessingTimeout = 15 * time.Minute
	DefaultWarningThreshold  = 0.5
	DefaultToolCacheTTL      = time.Hour
	DefaultToolCacheMaxSize  = 100
	DefaultMCPIdleShutdown   = 30 * time.Second
	MinProcessingTimeout     = time.Second
)

// QueueConfig holds LLMQueue tunables.
type QueueConfig struct {
	MaxQueueSize      int
	ProcessingTimeout time.Duration
	WarningThreshold  float64 // fraction of ProcessingTimeout, e.g. 0.5
}

// RegistryConfig holds MCPRegistry tunables.
type RegistryConfig struct {
	ToolCacheTTL     time.Duration
	ToolCacheMaxSize int
	IdleShutdown     time.Duration
}

// LoadQueueConfig reads LLM queue tunables from viper, applying
// defaults for unset keys and clamping ProcessingTimeout to a minimum
// of 1s.
func LoadQueueConfig(v *viper.Viper) QueueConfig {
	if v == nil {
		v = viper.GetViper()
	}
	cfg := QueueConfig{
		MaxQueueSize:      DefaultMaxQueueSize,
		ProcessingTimeout: DefaultProcessingTimeout,
		WarningThreshold:  DefaultWarningThreshold,
	}
	if v.IsSet("llm_queue.max_queue_size") {
		cfg.MaxQueueSize = v.GetInt("llm_queue.max_queue_size")
	}
	if v.IsSet("llm_queue.processing_timeout") {
		cfg.ProcessingTimeout = v.GetDuration("llm_queue.processing_timeout")
	}
	if v.IsSet("llm_queue.warning_threshold") {
		cfg.WarningThreshold = v.GetFloat64("llm_queue.warning_threshold")
	}
	if cfg.ProcessingTimeout < MinProcessingTimeout {
		cfg.ProcessingTimeout = MinProcessingTimeout
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	return cfg
}

// LoadRegistryConfig reads MCPRegistry tunables from viper, applying
// defaults for unset keys.
func LoadRegistryConfig(v *viper.Viper) RegistryConfig {
	if v == nil {
		v = viper.GetViper()
	}
	cfg := RegistryConfig{
		ToolCacheTTL:     DefaultToolCacheTTL,
		ToolCacheMaxSize: DefaultToolCacheMaxSize,
		IdleShutdown:     DefaultMCPIdleShutdown,
	}
	if v.IsSet("mcp_registry.tool_cache_ttl") {
		cfg.ToolCacheTTL = v.GetDuration("mcp_registry.tool_cache_ttl")
	}
	if v.IsSet("mcp_registry.tool_cache_max_size") {
		cfg.ToolCacheMaxSize = v.GetInt("mcp_registry.tool_cache_max_size")
	}
	if v.IsSet("mcp_registry.idle_shutdown") {
		cfg.IdleShutdown = v.GetDuration("mcp_registry.idle_shutdown")
	}
	if cfg.ToolCacheMaxSize <= 0 {
		cfg.ToolCacheMaxSize = DefaultToolCacheMaxSize
	}
	return cfg
}
