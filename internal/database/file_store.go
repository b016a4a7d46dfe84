package database

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"
)

// FileFaceStore keeps enrolled faces in the gob .faces file next to the index.
type FileFaceStore struct {
	path string
	mu   sync.Mutex
}

func NewFileFaceStore(path string) *FileFaceStore {
	return &FileFaceStore{path: path}
}

func (s *FileFaceStore) load() ([]EnrolledFace, error) {
	faces, err := LoadFaceMetadata(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return faces, err
}

// All returns every enrolled face ordered by ID.
func (s *FileFaceStore) All(ctx context.Context) ([]EnrolledFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	faces, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	return faces, nil
}

func (s *FileFaceStore) Count(ctx context.Context) (int, error) {
	faces, err := s.All(ctx)
	return len(faces), err
}

func (s *FileFaceStore) ReplaceIdentity(ctx context.Context, identityID string, faces []EnrolledFace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}

	var maxID int64
	kept := existing[:0]
	for _, f := range existing {
		if f.ID > maxID {
			maxID = f.ID
		}
		if f.IdentityID != identityID {
			kept = append(kept, f)
		}
	}

	now := time.Now()
	for _, f := range faces {
		maxID++
		f.ID = maxID
		f.IdentityID = identityID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		kept = append(kept, f)
	}

	return SaveFaceMetadata(s.path, kept)
}
