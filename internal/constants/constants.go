// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultDistanceThreshold is the default maximum cosine distance for face matching
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.5

	// MinDetScore is the minimum detector confidence for a face to be considered
	MinDetScore = 0.5

	// MaxImageSize is the maximum dimension (width or height) sent to the embedding server
	MaxImageSize = 1920
)

// Notification constants
const (
	// NotificationQueueSize is the buffer of the asynchronous mail queue
	NotificationQueueSize = 100

	// NotificationRetries is the number of delivery attempts per message
	NotificationRetries = 3

	// NotificationRetryDelay is the pause between delivery attempts
	NotificationRetryDelay = 5 * time.Second
)

// Device constants
const (
	// LEDBlinkPeriod is the on (and off) time of one LED blink
	LEDBlinkPeriod = 300 * time.Millisecond

	// QRCodeSize is the edge length in pixels of rendered challenge codes
	QRCodeSize = 512
)

// Server constants
const (
	// ShutdownTimeout bounds the graceful shutdown of the status server and the final flush
	ShutdownTimeout = 10 * time.Second
)
