// Package challenge tracks the single outstanding QR challenge at the kiosk.
package challenge

import (
	"errors"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/token"
)

// ErrSessionAlreadyOpen is returned when a challenge is opened while another one is still open.
// Only one subject is challenged at a time, so hitting it means the caller lost track of a session.
var ErrSessionAlreadyOpen = errors.New("challenge session already open")

// State is the lifecycle state of a session.
type State int

const (
	StateOpen State = iota
	StateVerified
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one verification poll.
type Outcome int

const (
	StillOpen Outcome = iota
	Verified
	Expired
)

func (o Outcome) String() string {
	switch o {
	case StillOpen:
		return "still_open"
	case Verified:
		return "verified"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Verifier checks a raw payload and returns the identity it belongs to.
type Verifier interface {
	Verify(payload string, now time.Time) (string, error)
}

// Slot holds at most one open session.
type Slot struct {
	verifier Verifier

	mu      sync.Mutex
	current *Session
}

// NewSlot creates an empty slot that verifies payloads with v.
func NewSlot(v Verifier) *Slot {
	return &Slot{verifier: v}
}

// Open starts a challenge for identityID.
func (s *Slot) Open(identityID string, tok token.Token) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.State() == StateOpen {
		return nil, ErrSessionAlreadyOpen
	}

	session := &Session{
		IdentityID: identityID,
		Token:      tok,
		slot:       s,
		state:      StateOpen,
	}
	s.current = session
	return session, nil
}

// Current returns the open session, or nil.
func (s *Slot) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel supersedes the open session, if any, and frees the slot.
func (s *Slot) Cancel() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.finish(StateCancelled)
	}
}

func (s *Slot) release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == session {
		s.current = nil
	}
}

// Session is one outstanding challenge.
type Session struct {
	IdentityID string
	Token      token.Token

	slot  *Slot
	mu    sync.Mutex
	state State
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PollVerify checks candidate payloads decoded from one frame.
//
// The session resolves to Verified on the first payload that verifies and was
// issued to this session's identity. Matching is per identity rather than per
// exact payload, so a regenerated QR image for the same identity still counts.
// Past the token's expiry with no match the session resolves to Expired.
// A session that already left Open keeps reporting its final outcome.
func (s *Session) PollVerify(payloads []string, now time.Time) Outcome {
	s.mu.Lock()
	switch s.state {
	case StateVerified:
		s.mu.Unlock()
		return Verified
	case StateExpired, StateCancelled:
		s.mu.Unlock()
		return Expired
	}
	s.mu.Unlock()

	if now.After(s.Token.ExpiresAt) {
		s.finish(StateExpired)
		return Expired
	}

	for _, payload := range payloads {
		id, err := s.slot.verifier.Verify(payload, now)
		if err != nil {
			continue
		}
		if id == s.IdentityID {
			s.finish(StateVerified)
			return Verified
		}
	}
	return StillOpen
}

// Close releases the slot. A session closed while still open becomes Cancelled.
// Close may be called any number of times.
func (s *Session) Close() {
	s.finish(StateCancelled)
}

// finish moves an open session to state and frees the slot. Terminal states are kept.
func (s *Session) finish(state State) {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = state
	}
	s.mu.Unlock()
	s.slot.release(s)
}
