package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool and makes sure the attendance
// table exists.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create attendance table: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS attendance (
    id              CHAR(36) PRIMARY KEY,
    identity_id     VARCHAR(64) NOT NULL,
    display_name    VARCHAR(255) NOT NULL DEFAULT '',
    contact         VARCHAR(255) NOT NULL DEFAULT '',
    session_label   VARCHAR(128) NOT NULL,
    date            DATE NOT NULL,
    time_of_day     CHAR(5) NOT NULL,
    attendance_time DATETIME NOT NULL,
    committed_at    DATETIME(3) NOT NULL,
    status          VARCHAR(16) NOT NULL DEFAULT 'Present',
    INDEX idx_attendance_session (session_label, date)
) DEFAULT CHARSET = utf8mb4`
