package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const failureSchema = `
CREATE TABLE IF NOT EXISTS failure_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tool       TEXT NOT NULL,
	error      TEXT NOT NULL,
	skill      TEXT NOT NULL,
	auto_fixed INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_log_tool ON failure_log(tool);
CREATE INDEX IF NOT EXISTS idx_failure_log_created ON failure_log(created_at);
`

// SQLiteSink is a Sink backed by a local SQLite database.
type SQLiteSink struct {
	db *sqlx.DB
}

// DefaultDBPath returns the default location of the failure database.
func DefaultDBPath() (string, error) {
	if base := os.Getenv("SKILLRUN_BASE_PATH"); base != "" {
		return filepath.Join(base, "memory.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".skillrun", "memory.db"), nil
}

// OpenSQLite opens (or creates) the failure database at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, failureSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// configure sets WAL-mode pragmas. A single connection avoids writer
// contention on the embedded driver.
func configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// LogFailure implements Sink.
func (s *SQLiteSink) LogFailure(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failure_log (tool, error, skill, auto_fixed, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Tool, entry.Error, entry.Skill, entry.AutoFixed, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert failure entry: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT tool, error, skill, auto_fixed, created_at FROM failure_log ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query failure log: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
