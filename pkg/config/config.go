package config

// Config is the umbrella configuration object returned by Initialize and
// used to construct every package's own Config/options at startup.
type Config struct {
	configDir string

	RateLimit *RateLimitConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Slack     *SlackConfig
	Replay    *ReplayConfig

	// ModelChain names, in attempt order, the provider entries Generate
	// walks for a turn (§4.9) — e.g. ["anthropic-primary", "langchain-fallback"].
	ModelChain []string

	// TrustedUserIDs receive RateLimit's TrustedMultiplier.
	TrustedUserIDs map[string]bool

	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// ConfigStats summarizes loaded configuration for a startup log line.
type ConfigStats struct {
	LLMProviders int
	ModelChain   int
	TrustedUsers int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		LLMProviders: c.LLMProviderRegistry.Len(),
		ModelChain:   len(c.ModelChain),
		TrustedUsers: len(c.TrustedUserIDs),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves a provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
