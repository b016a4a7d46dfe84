// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
)

// MockEnrolledFaceStore is a mock implementation of database.EnrolledFaceWriter
type MockEnrolledFaceStore struct {
	mu     sync.RWMutex
	faces  map[int64]database.EnrolledFace
	nextID int64

	// Error injection
	AllError     error
	CountError   error
	ReplaceError error

	// ReplaceCalls records the identity of every ReplaceIdentity call
	ReplaceCalls []string
}

// NewMockEnrolledFaceStore creates a new mock enrolled face store
func NewMockEnrolledFaceStore() *MockEnrolledFaceStore {
	return &MockEnrolledFaceStore{
		faces: make(map[int64]database.EnrolledFace),
	}
}

// AddFace adds a face to the mock store, assigning an ID when it has none
func (m *MockEnrolledFaceStore) AddFace(face database.EnrolledFace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if face.ID == 0 {
		m.nextID++
		face.ID = m.nextID
	} else if face.ID > m.nextID {
		m.nextID = face.ID
	}
	m.faces[face.ID] = face
}

// All returns every face ordered by ID
func (m *MockEnrolledFaceStore) All(ctx context.Context) ([]database.EnrolledFace, error) {
	if m.AllError != nil {
		return nil, m.AllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.EnrolledFace, 0, len(m.faces))
	for _, f := range m.faces {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of faces
func (m *MockEnrolledFaceStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

// ReplaceIdentity drops the identity's faces and stores the new ones
func (m *MockEnrolledFaceStore) ReplaceIdentity(ctx context.Context, identityID string, faces []database.EnrolledFace) error {
	m.mu.Lock()
	m.ReplaceCalls = append(m.ReplaceCalls, identityID)
	m.mu.Unlock()

	if m.ReplaceError != nil {
		return m.ReplaceError
	}

	m.mu.Lock()
	for id, f := range m.faces {
		if f.IdentityID == identityID {
			delete(m.faces, id)
		}
	}
	m.mu.Unlock()

	for _, f := range faces {
		f.ID = 0
		f.IdentityID = identityID
		m.AddFace(f)
	}
	return nil
}

// Verify interface compliance
var _ database.EnrolledFaceWriter = (*MockEnrolledFaceStore)(nil)
