package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema applies the idempotent schema and records or verifies its version.
// Every statement uses IF NOT EXISTS so the same file serves SQLite and Postgres.
func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var rows int
	if err := s.db.GetContext(ctx, &rows, "SELECT COUNT(1) FROM schema_version"); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if rows == 0 {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.GetContext(ctx, &version, "SELECT MAX(version) FROM schema_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database or migrate it manually)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}
