package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
)

// AttendanceSource is the in-memory ledger. *ledger.Ledger implements it.
type AttendanceSource interface {
	Events() []ledger.Event
	SessionEvents(label, date string) []ledger.Event
	Count() int
	Dirty() bool
}

// AttendanceRecord is one ledger event as served by the API.
type AttendanceRecord struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	ClassSession   string    `json:"class_session"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	AttendanceTime time.Time `json:"attendance_time"`
	CommittedAt    time.Time `json:"committed_at"`
	Status         string    `json:"status"`
}

func toRecord(e ledger.Event) AttendanceRecord {
	return AttendanceRecord{
		ID:             e.ID,
		StudentID:      e.IdentityID,
		Name:           e.DisplayName,
		Email:          e.Contact,
		ClassSession:   e.SessionLabel,
		Date:           e.Date,
		Time:           e.TimeOfDay,
		AttendanceTime: e.AttendanceTime,
		CommittedAt:    e.CommittedAt,
		Status:         string(e.Status),
	}
}

// AttendanceHandler serves the attendance ledger
type AttendanceHandler struct {
	ledger AttendanceSource
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(ledger AttendanceSource) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger}
}

// events applies the optional session and date query filters. A session
// without a date means today.
func (h *AttendanceHandler) events(r *http.Request) ([]ledger.Event, error) {
	session := r.URL.Query().Get("session")
	date := r.URL.Query().Get("date")

	if date != "" {
		if _, err := time.Parse(ledger.DateLayout, date); err != nil {
			return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}
	}
	if session == "" && date == "" {
		return h.ledger.Events(), nil
	}
	if date == "" {
		date = time.Now().Format(ledger.DateLayout)
	}
	if session == "" {
		var out []ledger.Event
		for _, e := range h.ledger.Events() {
			if e.Date == date {
				out = append(out, e)
			}
		}
		return out, nil
	}
	return h.ledger.SessionEvents(session, date), nil
}

// List returns ledger events as JSON.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	events, err := h.events(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := make([]AttendanceRecord, 0, len(events))
	for _, e := range events {
		records = append(records, toRecord(e))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(records),
		"events": records,
	})
}

// Export returns ledger events in the CSV export format.
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	events, err := h.events(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.csv"`)
	if err := ledger.WriteCSV(w, events); err != nil {
		slog.Error("writing attendance export failed", "query", sanitizeForLog(r.URL.RawQuery), "error", err)
	}
}
