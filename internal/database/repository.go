package database

import (
	"context"
)

// EnrolledFaceReader provides read-only access to enrolled faces
type EnrolledFaceReader interface {
	// All returns every enrolled face
	All(ctx context.Context) ([]EnrolledFace, error)
	// Count returns the number of enrolled faces
	Count(ctx context.Context) (int, error)
}

// EnrolledFaceWriter provides write access to enrolled faces
type EnrolledFaceWriter interface {
	EnrolledFaceReader

	// ReplaceIdentity stores faces for one identity, dropping its previous faces.
	// IDs of the given faces are assigned by the store.
	ReplaceIdentity(ctx context.Context, identityID string, faces []EnrolledFace) error
}
