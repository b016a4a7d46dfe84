package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
)

// AttendanceRepository mirrors the ledger into the attendance table.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Write inserts every event of the snapshot. Events already stored are skipped.
func (r *AttendanceRepository) Write(ctx context.Context, snap ledger.Snapshot) error {
	if len(snap.All) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance (id, identity_id, display_name, contact, session_label, date, time_of_day,
		                        attendance_time, committed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare attendance insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.All {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.IdentityID, e.DisplayName, e.Contact, e.SessionLabel, e.Date, e.TimeOfDay,
			e.AttendanceTime, e.CommittedAt, string(e.Status),
		); err != nil {
			return fmt.Errorf("insert attendance %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance: %w", err)
	}
	return nil
}

// Load returns all stored events ordered by commit time.
func (r *AttendanceRepository) Load(ctx context.Context) ([]ledger.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, display_name, contact, session_label, date, time_of_day,
		       attendance_time, committed_at, status
		FROM attendance
		ORDER BY committed_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SessionEvents returns the events of one session label on one date.
func (r *AttendanceRepository) SessionEvents(ctx context.Context, label, date string) ([]ledger.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, display_name, contact, session_label, date, time_of_day,
		       attendance_time, committed_at, status
		FROM attendance
		WHERE session_label = $1 AND date = $2
		ORDER BY committed_at, id
	`, label, date)
	if err != nil {
		return nil, fmt.Errorf("query session attendance: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count returns the number of stored events.
func (r *AttendanceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return count, nil
}

func scanEvents(rows *sql.Rows) ([]ledger.Event, error) {
	var events []ledger.Event
	for rows.Next() {
		var e ledger.Event
		var date time.Time
		var status string
		if err := rows.Scan(
			&e.ID, &e.IdentityID, &e.DisplayName, &e.Contact, &e.SessionLabel, &date, &e.TimeOfDay,
			&e.AttendanceTime, &e.CommittedAt, &status,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		e.Date = date.Format(ledger.DateLayout)
		e.Status = ledger.Status(status)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return events, nil
}

// Verify interface compliance
var (
	_ ledger.Store  = (*AttendanceRepository)(nil)
	_ ledger.Loader = (*AttendanceRepository)(nil)
)
