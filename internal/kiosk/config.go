package kiosk

import (
	"errors"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/token"
)

// Config parameterizes the state machine. Frame downscaling is a property of
// the IdentityMatcher, see recognition.Config.ScaleFactor.
type Config struct {
	SessionLabel string
	SecretKey    string
	DigestScheme token.Scheme

	ChallengeTTL       time.Duration
	DedupInterval      time.Duration
	MotionPollInterval time.Duration
	FramePollInterval  time.Duration
	// RecognitionTimeout abandons a cycle when no known face shows up in time.
	// Zero waits indefinitely.
	RecognitionTimeout time.Duration
	// MotionSettle is the pause between the motion trigger and the first frame.
	MotionSettle time.Duration
	// FeedbackPause keeps blocked/success/expired feedback visible before the next cycle.
	FeedbackPause time.Duration
	// MaxConsecutiveFaults turns a run of sensor, camera or matcher errors into ErrHardwareFault.
	MaxConsecutiveFaults int
}

func DefaultConfig() Config {
	return Config{
		DigestScheme:         token.SchemeHMAC,
		ChallengeTTL:         15 * time.Minute,
		DedupInterval:        15 * time.Minute,
		MotionPollInterval:   200 * time.Millisecond,
		FramePollInterval:    100 * time.Millisecond,
		MotionSettle:         time.Second,
		FeedbackPause:        2 * time.Second,
		MaxConsecutiveFaults: 50,
	}
}

func (c Config) validate() error {
	switch {
	case c.SessionLabel == "":
		return errors.New("session label is required")
	case c.SecretKey == "":
		return errors.New("secret key is required")
	case c.ChallengeTTL <= 0:
		return errors.New("challenge TTL must be positive")
	case c.DedupInterval < 0:
		return errors.New("dedup interval must not be negative")
	case c.MaxConsecutiveFaults <= 0:
		return errors.New("max consecutive faults must be positive")
	}
	return nil
}
