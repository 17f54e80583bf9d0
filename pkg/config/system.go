package config

// SlackConfig holds resolved chat-transport configuration for the
// pkg/transport/slack adapter.
type SlackConfig struct {
	TokenEnv string // env var holding the bot token (default: "SLACK_BOT_TOKEN")
	APIURL   string // override for self-hosted/proxy Slack-compatible endpoints
}

// ReplayConfig holds the bearer token env var guarding the
// /internal/replay-update endpoint (§6) used to recover updates the
// ingestion pipeline's recovery sweep surfaces.
type ReplayConfig struct {
	BearerTokenEnv string
}
