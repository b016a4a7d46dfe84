package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
)

// Status of an attendance event. Only Present is ever written by the kiosk.
type Status string

const StatusPresent Status = "Present"

// Layouts used in the tabular export.
const (
	DateLayout           = "2006-01-02"
	TimeOfDayLayout      = "15:04"
	AttendanceTimeLayout = "2006-01-02 15:04:05"
)

// eventNamespace scopes deterministic event ids.
var eventNamespace = uuid.MustParse("6f1c2a8e-4b7d-4e0a-9c3f-2d5e8a1b7c40")

// EventID derives the id of an attendance from the identity, the session label
// and the second the challenge was issued. Rows reloaded from the tabular
// export get the same id, so idempotent stores do not duplicate them.
func EventID(identityID, sessionLabel string, attendanceTime time.Time) string {
	key := identityID + "|" + sessionLabel + "|" + attendanceTime.Truncate(time.Second).UTC().Format(time.RFC3339)
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

// Columns is the header of the tabular export.
var Columns = []string{"Name", "StudentID", "Email", "ClassSession", "Date", "Time", "AttendanceTime", "Status"}

// Event is one committed attendance. Events are never mutated after Append.
type Event struct {
	ID             string
	IdentityID     string
	DisplayName    string
	Contact        string
	SessionLabel   string
	Date           string // DateLayout, local to the kiosk
	TimeOfDay      string // TimeOfDayLayout
	AttendanceTime time.Time
	CommittedAt    time.Time
	Status         Status
}

// NewEvent builds the event for a verified challenge. issuedAt is the instant
// the challenge token was issued, committedAt the instant it was verified.
func NewEvent(identity roster.Identity, sessionLabel string, issuedAt, committedAt time.Time) Event {
	local := committedAt.Local()
	return Event{
		ID:             EventID(identity.ID, sessionLabel, issuedAt),
		IdentityID:     identity.ID,
		DisplayName:    identity.DisplayName,
		Contact:        identity.Contact,
		SessionLabel:   sessionLabel,
		Date:           local.Format(DateLayout),
		TimeOfDay:      local.Format(TimeOfDayLayout),
		AttendanceTime: issuedAt,
		CommittedAt:    committedAt,
		Status:         StatusPresent,
	}
}

// Record renders the event as a row in Columns order.
func (e Event) Record() []string {
	return []string{
		e.DisplayName,
		e.IdentityID,
		e.Contact,
		e.SessionLabel,
		e.Date,
		e.TimeOfDay,
		e.AttendanceTime.Local().Format(AttendanceTimeLayout),
		string(e.Status),
	}
}

// ParseRecord is the inverse of Record. Rows carry no commit instant, so
// CommittedAt is rebuilt from Date and Time as the last instant of that
// minute. Dedup windows seeded from it never end before the real one.
func ParseRecord(row []string) (Event, error) {
	if len(row) != len(Columns) {
		return Event{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(row))
	}

	attendanceTime, err := time.ParseInLocation(AttendanceTimeLayout, row[6], time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("parsing AttendanceTime %q: %w", row[6], err)
	}
	committedAt, err := time.ParseInLocation(DateLayout+" "+TimeOfDayLayout, row[4]+" "+row[5], time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("parsing Date/Time %q %q: %w", row[4], row[5], err)
	}

	return Event{
		ID:             EventID(row[1], row[3], attendanceTime),
		DisplayName:    row[0],
		IdentityID:     row[1],
		Contact:        row[2],
		SessionLabel:   row[3],
		Date:           row[4],
		TimeOfDay:      row[5],
		AttendanceTime: attendanceTime,
		CommittedAt:    committedAt.Add(time.Minute - time.Nanosecond),
		Status:         Status(row[7]),
	}, nil
}
