package config

import "time"

// RateLimitConfig mirrors pkg/ratelimit.Config's shape so it can be loaded
// from YAML and handed to ratelimit.New at startup without that package
// importing this one.
type RateLimitConfig struct {
	ChatMinuteMax int           `yaml:"chat_minute_max" validate:"required,min=1"`
	UserBurstMax  int           `yaml:"user_burst_max" validate:"required,min=1"`
	BurstWindow   time.Duration `yaml:"burst_window" validate:"required"`
	UserMinuteMax int           `yaml:"user_minute_max" validate:"required,min=1"`
	UserDailyMax  int           `yaml:"user_daily_max" validate:"required,min=1"`

	TrustedMultiplier int           `yaml:"trusted_multiplier" validate:"required,min=1"`
	NoticeCooldown    time.Duration `yaml:"notice_cooldown" validate:"required"`
}

// DefaultRateLimitConfig returns the limits named in §4.4, before tier
// adjustment — the same numbers pkg/ratelimit.DefaultConfig carries, kept
// in sync manually since the two packages don't share a type.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		ChatMinuteMax:     20,
		UserBurstMax:      3,
		BurstWindow:       10 * time.Second,
		UserMinuteMax:     10,
		UserDailyMax:      200,
		TrustedMultiplier: 5,
		NoticeCooldown:    20 * time.Second,
	}
}
