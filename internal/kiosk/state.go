package kiosk

type State int

const (
	StateIdle State = iota
	StateAwaitingMotion
	StateRecognizing
	StateBlocked
	StateChallenging
	StateVerifying
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMotion:
		return "awaiting_motion"
	case StateRecognizing:
		return "recognizing"
	case StateBlocked:
		return "blocked"
	case StateChallenging:
		return "challenging"
	case StateVerifying:
		return "verifying"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is how one motion cycle ended.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeBlocked
	OutcomeExpired
	OutcomeNotEnrolled
	OutcomeAbandoned // recognition timed out or the context was cancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotEnrolled:
		return "not_enrolled"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
