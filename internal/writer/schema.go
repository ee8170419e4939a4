package writer

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS value_changes (
		id          UUID PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
		instance_id TEXT NOT NULL,
		property    TEXT NOT NULL,
		value       JSONB NOT NULL,
		set_reason  TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS value_changes_instance_property_idx
		ON value_changes (instance_id, property, received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS value_changes_received_at_idx
		ON value_changes (received_at DESC)`,
}

// EnsureSchema creates the value_changes table and its indexes if absent.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
