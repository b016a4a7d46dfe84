package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
)

// AttendanceRepository persists ledger snapshots into the attendance table.
type AttendanceRepository struct {
	db *sql.DB
}

func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Write inserts every event of the snapshot. Events already stored are skipped.
func (r *AttendanceRepository) Write(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO attendance (id, identity_id, display_name, contact, session_label, date, time_of_day,
		                                  attendance_time, committed_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
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

	return tx.Commit()
}

// Load returns all stored events ordered by commit time.
func (r *AttendanceRepository) Load(ctx context.Context) ([]ledger.Event, error) {
	return r.query(ctx, `
		SELECT id, identity_id, display_name, contact, session_label, date, time_of_day,
		       attendance_time, committed_at, status
		FROM attendance
		ORDER BY committed_at, id`)
}

// SessionEvents returns the events of one session label on one date.
func (r *AttendanceRepository) SessionEvents(ctx context.Context, label, date string) ([]ledger.Event, error) {
	return r.query(ctx, `
		SELECT id, identity_id, display_name, contact, session_label, date, time_of_day,
		       attendance_time, committed_at, status
		FROM attendance
		WHERE session_label = ? AND date = ?
		ORDER BY committed_at, id`, label, date)
}

func (r *AttendanceRepository) query(ctx context.Context, query string, args ...any) ([]ledger.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var e ledger.Event
		var status string
		if err := rows.Scan(
			&e.ID, &e.IdentityID, &e.DisplayName, &e.Contact, &e.SessionLabel, &e.Date, &e.TimeOfDay,
			&e.AttendanceTime, &e.CommittedAt, &status,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		e.Status = ledger.Status(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

var (
	_ ledger.Store  = (*AttendanceRepository)(nil)
	_ ledger.Loader = (*AttendanceRepository)(nil)
)
