package repository

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// Times are stored as unix milliseconds and ids as text so one schema
// serves both sqlite and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS extraction_sessions (
		id           TEXT PRIMARY KEY,
		schema_key   TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		file_count   INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		created_at   BIGINT NOT NULL,
		expires_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status_expires ON extraction_sessions (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS extraction_versions (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL REFERENCES extraction_sessions (id) ON DELETE CASCADE,
		version_number INTEGER NOT NULL,
		model_id       TEXT NOT NULL,
		instructions   TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		created_at     BIGINT NOT NULL,
		completed_at   BIGINT NOT NULL DEFAULT 0,
		UNIQUE (session_id, version_number)
	)`,
	`CREATE TABLE IF NOT EXISTS session_files (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL REFERENCES extraction_sessions (id) ON DELETE CASCADE,
		filename         TEXT NOT NULL,
		content          TEXT NOT NULL DEFAULT '',
		conversion_error TEXT NOT NULL DEFAULT '',
		purged           INTEGER NOT NULL DEFAULT 0,
		created_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_files_session ON session_files (session_id)`,
	`CREATE TABLE IF NOT EXISTS file_version_results (
		id              TEXT PRIMARY KEY,
		file_id         TEXT NOT NULL REFERENCES session_files (id) ON DELETE CASCADE,
		version_id      TEXT NOT NULL REFERENCES extraction_versions (id) ON DELETE CASCADE,
		filename        TEXT NOT NULL,
		status          TEXT NOT NULL,
		structured_data TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		cache_hit       INTEGER NOT NULL DEFAULT 0,
		processing_ms   BIGINT NOT NULL DEFAULT 0,
		created_at      BIGINT NOT NULL,
		UNIQUE (file_id, version_id)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		model       TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		ttl_ms      BIGINT NOT NULL DEFAULT 0,
		expires_at  BIGINT NOT NULL DEFAULT 0,
		hit_count   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries (expires_at)`,
}

// Migrate creates any missing tables and indexes.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("failed to apply schema", "statement", i, "error", err)
			return fmt.Errorf("%w: migrate statement %d: %w", common.ErrDatabase, i, err)
		}
	}
	db.logger.Debug("schema applied", "statements", len(schema))
	return nil
}
