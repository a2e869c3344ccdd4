package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_applicants",
		SQL: `CREATE TABLE IF NOT EXISTS applicants (
  id   TEXT    PRIMARY KEY NOT NULL,
  path TEXT    NOT NULL,
  sent BOOLEAN NOT NULL DEFAULT 0
);`,
	},
	{
		Name: "create_index_applicants_sent",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_applicants_sent ON applicants (sent);`,
	},
}

// EnsureMigrated checks if the 'applicants' table exists in the ledger and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *slog.Logger, ledgerPath string) error {
	start := time.Now()
	logger = logger.With("component", "ledger", "ledger_path", ledgerPath)

	logger.Info("ledger migration check", "event", "db_migration_check", "status", "starting")

	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'applicants'"
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Error("ledger migration failed",
			"event", "db_migration_failed",
			"status", "error",
			"error_message", fmt.Sprintf("failed to check sentinel table: %v", err),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if count > 0 {
		logger.Info("schema already exists, skipping migration",
			"event", "db_migration_skip",
			"status", "success",
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	logger.Info("ledger migration start", "event", "db_migration_start", "status", "in_progress")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			logger.Error("ledger migration failed",
				"event", "db_migration_failed",
				"status", "error",
				"migration_step", step.Name,
				"error_message", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logger.Info("ledger migration step",
			"event", "db_migration_step",
			"status", "success",
			"migration_step", step.Name,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	logger.Info("ledger migration done",
		"event", "db_migration_success",
		"status", "success",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
