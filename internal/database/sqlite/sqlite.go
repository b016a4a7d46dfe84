// Package sqlite keeps a local copy of the attendance ledger in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the database, applies connection pragmas and creates the schema.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", p, err)
		}
	}

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		session_label TEXT NOT NULL,
		date TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		attendance_time TIMESTAMP NOT NULL,
		committed_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'Present'
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance(session_label, date);
	CREATE INDEX IF NOT EXISTS idx_attendance_committed_at ON attendance(committed_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}
