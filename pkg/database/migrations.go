package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreatePartialUniqueIndexes creates the partial unique indexes that
// enforce "at most one default terminal per thread" and "at most one
// live chat session per thread". ent's entsql.IndexWhere annotation
// reaches these at Schema.Create time for a live connection, and the
// versioned migrations (the production path, see client.go's
// runMigrations) create the same two indexes in their SQL; both
// statements here use IF NOT EXISTS, so running this after either path
// is a no-op and every path converges on the same constraint.
func CreatePartialUniqueIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS abstractterminal_thread_id_is_default
		ON abstract_terminals (thread_id, is_default) WHERE is_default`)
	if err != nil {
		return fmt.Errorf("failed to create default-terminal partial unique index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS chat_sessions_thread_live_uq
		ON chat_sessions (thread_id) WHERE status IN ('active', 'idle', 'paused')`)
	if err != nil {
		return fmt.Errorf("failed to create live-chat-session partial unique index: %w", err)
	}

	return nil
}
