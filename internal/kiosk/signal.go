package kiosk

import "time"

type SignalKind int

const (
	SignalWaiting SignalKind = iota
	SignalMotionDetected
	SignalChallenging
	SignalBlocked
	SignalSuccess
	SignalExpired
	SignalNotEnrolled
)

func (k SignalKind) String() string {
	switch k {
	case SignalWaiting:
		return "waiting"
	case SignalMotionDetected:
		return "motion_detected"
	case SignalChallenging:
		return "challenging"
	case SignalBlocked:
		return "blocked"
	case SignalSuccess:
		return "success"
	case SignalExpired:
		return "expired"
	case SignalNotEnrolled:
		return "not_enrolled"
	default:
		return "unknown"
	}
}

// Signal is one piece of operator feedback.
type Signal struct {
	Kind       SignalKind
	IdentityID string
	Name       string
	Count      int           // commits in this run, set on Success
	Remaining  time.Duration // dedup wait, set on Blocked
}
