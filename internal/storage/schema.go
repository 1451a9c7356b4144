package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hyperjump/kagami/internal/config"
)

func schemaFor(driver string) string {
	ts := "TIMESTAMP"
	if driver == config.DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		in_service BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT '',
		technical_specs TEXT,
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embedding_records (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		vector TEXT NOT NULL,
		metadata TEXT,
		parent_id TEXT NOT NULL,
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL,
		FOREIGN KEY (parent_id) REFERENCES entities(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_embedding_records_parent_id ON embedding_records(parent_id);
	CREATE INDEX IF NOT EXISTS idx_embedding_records_created ON embedding_records(created_at, id);
	`, ts)
}

func initSchema(ctx context.Context, db *sqlx.DB, driver string) error {
	_, err := db.ExecContext(ctx, schemaFor(driver))
	return err
}
