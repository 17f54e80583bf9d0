package config

import "time"

// RetentionConfig controls the two sweeps pkg/cleanup.Service runs: the
// ProcessedUpdate dedup-ledger trim (C2) and the ConvSession/Message trim
// (C10), both hard-deletes rather than the teacher's soft-delete, since
// this schema carries no deleted_at column.
type RetentionConfig struct {
	// UpdateRetention is how long a processed/failed ProcessedUpdate row
	// is kept before deletion. 30 days per SPEC_FULL.md.
	UpdateRetention time.Duration `yaml:"update_retention" validate:"required"`

	// SessionRetention is how long a ConvSession can sit idle
	// (last_message_at) before it and its messages/approvals are deleted.
	SessionRetention time.Duration `yaml:"session_retention" validate:"required"`

	// CleanupInterval is how often the sweep loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"required"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		UpdateRetention:  30 * 24 * time.Hour,
		SessionRetention: 90 * 24 * time.Hour,
		CleanupInterval:  12 * time.Hour,
	}
}
