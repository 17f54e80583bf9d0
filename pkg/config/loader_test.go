package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFiles(t *testing.T, chatCoreYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chatcore.yaml"), []byte(chatCoreYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  anthropic-primary:
    type: anthropic
    model: claude-sonnet
    api_key_env: ANTHROPIC_API_KEY
`

func TestInitialize_AppliesDefaultsForOmittedSections(t *testing.T) {
	dir := writeConfigFiles(t, `
model_chain:
  - anthropic-primary
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultRateLimitConfig(), cfg.RateLimit)
	assert.Equal(t, DefaultQueueConfig(), cfg.Queue)
	assert.Equal(t, DefaultRetentionConfig(), cfg.Retention)
	assert.Equal(t, "SLACK_BOT_TOKEN", cfg.Slack.TokenEnv)
	assert.Equal(t, "REPLAY_BEARER_TOKEN", cfg.Replay.BearerTokenEnv)
	assert.Equal(t, []string{"anthropic-primary"}, cfg.ModelChain)
}

func TestInitialize_OverridesMergeOntoDefaults(t *testing.T) {
	dir := writeConfigFiles(t, `
rate_limit:
  chat_minute_max: 99
queue:
  worker_count: 7
slack:
  token_env: CUSTOM_SLACK_TOKEN
model_chain:
  - anthropic-primary
trusted_user_ids:
  - U123
  - U456
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.RateLimit.ChatMinuteMax)
	// Unset rate_limit fields keep their default values via mergo.
	assert.Equal(t, DefaultRateLimitConfig().UserBurstMax, cfg.RateLimit.UserBurstMax)
	assert.Equal(t, 7, cfg.Queue.WorkerCount)
	assert.Equal(t, "CUSTOM_SLACK_TOKEN", cfg.Slack.TokenEnv)
	assert.True(t, cfg.TrustedUserIDs["U123"])
	assert.True(t, cfg.TrustedUserIDs["U456"])
	assert.False(t, cfg.TrustedUserIDs["unknown"])
}

func TestInitialize_ExpandsEnvVarsInYAML(t *testing.T) {
	t.Setenv("CHATCORE_TEST_API_KEY_ENV", "CUSTOM_KEY_ENV")
	dir := writeConfigFiles(t, `
model_chain:
  - anthropic-primary
`, `
llm_providers:
  anthropic-primary:
    type: anthropic
    model: claude-sonnet
    api_key_env: ${CHATCORE_TEST_API_KEY_ENV}
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	provider, err := cfg.GetLLMProvider("anthropic-primary")
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM_KEY_ENV", provider.APIKeyEnv)
}

func TestInitialize_MissingFileIsReported(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_RejectsInvalidModelChainReference(t *testing.T) {
	dir := writeConfigFiles(t, `
model_chain:
  - nonexistent-provider
`, minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent-provider")
}

func TestInitialize_InvalidYAMLIsReported(t *testing.T) {
	dir := writeConfigFiles(t, "model_chain: [unterminated", minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}
