package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Stats(t *testing.T) {
	cfg := validConfig()
	stats := cfg.Stats()

	assert.Equal(t, 1, stats.LLMProviders)
	assert.Equal(t, 1, stats.ModelChain)
	assert.Equal(t, 0, stats.TrustedUsers)
}

func TestConfig_GetLLMProvider(t *testing.T) {
	cfg := validConfig()

	provider, err := cfg.GetLLMProvider("anthropic-primary")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", provider.Model)

	_, err = cfg.GetLLMProvider("missing")
	assert.ErrorIs(t, err, ErrLLMProviderNotFound)
}

func TestConfig_ConfigDir(t *testing.T) {
	cfg := &Config{configDir: "/etc/chatcore"}
	assert.Equal(t, "/etc/chatcore", cfg.ConfigDir())
}
