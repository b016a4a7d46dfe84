package kiosk

import (
	"context"
	"image"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/roster"
)

// Frame is one captured camera image. Raw holds the encoded bytes when the
// source had them.
type Frame struct {
	Image      image.Image
	Raw        []byte
	Format     string
	CapturedAt time.Time
}

// Match is the result of matching a frame against enrolled identities.
// Known is false for "no face" and for unknown faces alike.
type Match struct {
	IdentityID string
	Known      bool
	Confidence float64
	Distance   float64
}

// Unknown is the zero match.
var Unknown = Match{}

// MotionSensor reports whether motion is currently detected.
type MotionSensor interface {
	Read(ctx context.Context) (bool, error)
}

// FrameSource returns the latest available camera frame. It may block.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
}

type IdentityMatcher interface {
	Match(ctx context.Context, frame Frame) (Match, error)
}

// QRDecoder returns every QR payload found in the frame, possibly none.
type QRDecoder interface {
	Decode(ctx context.Context, frame Frame) ([]string, error)
}

// QRRenderer encodes a payload as a PNG image.
type QRRenderer interface {
	Render(payload string) ([]byte, error)
}

// Display shows the challenge code on the local surface the subject scans from.
type Display interface {
	Show(identity roster.Identity, png []byte) error
}

// NotificationSink delivers the challenge code out of band. Errors are not fatal.
type NotificationSink interface {
	Send(ctx context.Context, identity roster.Identity, png []byte) error
}

// SignalSink drives operator feedback (LED, LCD, log).
type SignalSink interface {
	Notify(ctx context.Context, s Signal)
}

// Directory resolves identity ids to roster entries.
type Directory interface {
	ByID(id string) (roster.Identity, bool)
}
