package handlers

import (
	"net/http"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
)

// StatusProvider reports the state machine status. *kiosk.Orchestrator implements it.
type StatusProvider interface {
	Snapshot() kiosk.Status
}

// StatusResponse is the status endpoint payload.
type StatusResponse struct {
	kiosk.Status
	LedgerEvents int  `json:"ledger_events"`
	LedgerDirty  bool `json:"ledger_dirty"`
}

// StatusHandler handles the kiosk status endpoint
type StatusHandler struct {
	status StatusProvider
	ledger AttendanceSource
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(status StatusProvider, ledger AttendanceSource) *StatusHandler {
	return &StatusHandler{status: status, ledger: ledger}
}

// Get returns the current kiosk status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		respondError(w, http.StatusServiceUnavailable, "kiosk not running")
		return
	}

	resp := StatusResponse{Status: h.status.Snapshot()}
	if h.ledger != nil {
		resp.LedgerEvents = h.ledger.Count()
		resp.LedgerDirty = h.ledger.Dirty()
	}
	respondJSON(w, http.StatusOK, resp)
}
