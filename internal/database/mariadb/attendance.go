package mariadb

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
)

// AttendanceStore mirrors the ledger into a MariaDB table, for sites that
// already report from MariaDB.
type AttendanceStore struct {
	pool *Pool
}

func NewAttendanceStore(pool *Pool) *AttendanceStore {
	return &AttendanceStore{pool: pool}
}

// Write inserts every event of the snapshot. Rows already present are ignored.
func (s *AttendanceStore) Write(ctx context.Context, snap ledger.Snapshot) error {
	if len(snap.All) == 0 {
		return nil
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT IGNORE INTO attendance (id, identity_id, display_name, contact, session_label, date, time_of_day,
		                               attendance_time, committed_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attendance insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.All {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.IdentityID, e.DisplayName, e.Contact, e.SessionLabel, e.Date, e.TimeOfDay,
			e.AttendanceTime.UTC(), e.CommittedAt.UTC(), string(e.Status),
		); err != nil {
			return fmt.Errorf("insert attendance %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance: %w", err)
	}
	return nil
}

// Count returns the number of stored events.
func (s *AttendanceStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return count, nil
}

var _ ledger.Store = (*AttendanceStore)(nil)
