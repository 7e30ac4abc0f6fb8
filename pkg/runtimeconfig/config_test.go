package runtimeconfig

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadQueueConfig_Defaults(t *testing.T) {
	cfg := LoadQueueConfig(viper.New())
	assert.Equal(t, DefaultMaxQueueSize, cfg.MaxQueueSize)
	assert.Equal(t, DefaultProcessingTimeout, cfg.ProcessingTimeout)
	assert.Equal(t, DefaultWarningThreshold, cfg.WarningThreshold)
}

func TestLoadQueueConfig_ClampsTimeoutMinimum(t *testing.T) {
	v := viper.New()
	v.Set("llm_queue.processing_timeout", "100ms")
	cfg := LoadQueueConfig(v)
	assert.Equal(t, MinProcessingTimeout, cfg.ProcessingTimeout)
}

func TestLoadQueueConfig_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("llm_queue.max_queue_size", 5)
	v.Set("llm_queue.processing_timeout", "2s")
	cfg := LoadQueueConfig(v)
	assert.Equal(t, 5, cfg.MaxQueueSize)
	assert.Equal(t, 2*time.Second, cfg.ProcessingTimeout)
}

func TestLoadRegistryConfig_Defaults(t *testing.T) {
	cfg := LoadRegistryConfig(viper.New())
	assert.Equal(t, DefaultToolCacheTTL, cfg.ToolCacheTTL)
	assert.Equal(t, DefaultToolCacheMaxSize, cfg.ToolCacheMaxSize)
	assert.Equal(t, DefaultMCPIdleShutdown, cfg.IdleShutdown)
}
