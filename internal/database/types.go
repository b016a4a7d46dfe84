package database

import (
	"time"
)

// EnrolledFace is a reference face embedding of a roster identity.
type EnrolledFace struct {
	ID         int64
	IdentityID string
	Embedding  []float32
	DetScore   float64
	Source     string // photo the embedding was computed from
	CreatedAt  time.Time
}
