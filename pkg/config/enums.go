package config

// LLMProviderType selects which LLMClient implementation a provider entry
// is bound to.
type LLMProviderType string

const (
	// LLMProviderTypeAnthropic backs pkg/agent/anthropic.Client.
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeLangchain backs pkg/agent/langchain.Client.
	LLMProviderTypeLangchain LLMProviderType = "langchain"
)

// IsValid checks if the provider type is one this module knows how to
// construct a client for.
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeAnthropic || t == LLMProviderTypeLangchain
}
