package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ChatCoreYAMLConfig represents the complete chatcore.yaml file structure:
// everything except the per-provider model registry, which lives in its
// own llm-providers.yaml so secrets/endpoints can be rotated independently
// of rate-limit/queue/retention tuning.
type ChatCoreYAMLConfig struct {
	RateLimit      *RateLimitConfig `yaml:"rate_limit"`
	Queue          *QueueConfig     `yaml:"queue"`
	Retention      *RetentionConfig `yaml:"retention"`
	Slack          *SlackYAMLConfig `yaml:"slack"`
	ReplayTokenEnv string           `yaml:"replay_token_env"`
	ModelChain     []string         `yaml:"model_chain"`
	TrustedUserIDs []string         `yaml:"trusted_user_ids"`
}

// SlackYAMLConfig holds chat-transport settings from YAML.
type SlackYAMLConfig struct {
	TokenEnv string `yaml:"token_env,omitempty"`
	APIURL   string `yaml:"api_url,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"model_chain_len", stats.ModelChain,
		"trusted_users", stats.TrustedUsers)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	chatCore, err := loader.loadChatCoreYAML()
	if err != nil {
		return nil, NewLoadError("chatcore.yaml", err)
	}

	providers, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	rateLimit := DefaultRateLimitConfig()
	if chatCore.RateLimit != nil {
		if err := mergo.Merge(rateLimit, chatCore.RateLimit, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge rate_limit config: %w", err)
		}
	}

	queue := DefaultQueueConfig()
	if chatCore.Queue != nil {
		if err := mergo.Merge(queue, chatCore.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if chatCore.Retention != nil {
		if err := mergo.Merge(retention, chatCore.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	trusted := make(map[string]bool, len(chatCore.TrustedUserIDs))
	for _, id := range chatCore.TrustedUserIDs {
		trusted[id] = true
	}

	return &Config{
		configDir:           configDir,
		RateLimit:           rateLimit,
		Queue:               queue,
		Retention:           retention,
		Slack:               resolveSlackConfig(chatCore.Slack),
		Replay:              &ReplayConfig{BearerTokenEnv: resolveReplayTokenEnv(chatCore.ReplayTokenEnv)},
		ModelChain:          chatCore.ModelChain,
		TrustedUserIDs:      trusted,
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadChatCoreYAML() (*ChatCoreYAMLConfig, error) {
	var cfg ChatCoreYAMLConfig
	if err := l.loadYAML("chatcore.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}

func resolveSlackConfig(yamlCfg *SlackYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"}
	if yamlCfg == nil {
		return cfg
	}
	if yamlCfg.TokenEnv != "" {
		cfg.TokenEnv = yamlCfg.TokenEnv
	}
	cfg.APIURL = yamlCfg.APIURL
	return cfg
}

func resolveReplayTokenEnv(v string) string {
	if v != "" {
		return v
	}
	return "REPLAY_BEARER_TOKEN"
}
