package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates GIN indexes over the JSON columns that get
// queried by shape rather than equality: audit event metadata (used by
// replay/debugging tooling to find events by attribute) and message parts
// (used to locate tool-call/tool-result payloads within a turn).
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_metadata_gin
		ON audit_events USING gin(metadata jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events metadata GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_messages_parts_gin
		ON messages USING gin(parts jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create messages parts GIN index: %w", err)
	}

	return nil
}
