package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EnrolledFaceRepository stores reference face embeddings in a pgvector column.
type EnrolledFaceRepository struct {
	pool *Pool
}

// NewEnrolledFaceRepository creates a new PostgreSQL enrolled face repository.
func NewEnrolledFaceRepository(pool *Pool) *EnrolledFaceRepository {
	return &EnrolledFaceRepository{pool: pool}
}

// All returns every enrolled face ordered by ID.
func (r *EnrolledFaceRepository) All(ctx context.Context) ([]database.EnrolledFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, embedding, det_score, source, created_at
		FROM enrolled_faces
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrolled faces: %w", err)
	}
	defer rows.Close()

	var faces []database.EnrolledFace
	for rows.Next() {
		var f database.EnrolledFace
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.IdentityID, &vec, &f.DetScore, &f.Source, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrolled face: %w", err)
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrolled faces: %w", err)
	}
	return faces, nil
}

// Count returns the number of enrolled faces.
func (r *EnrolledFaceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM enrolled_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count enrolled faces: %w", err)
	}
	return count, nil
}

// ReplaceIdentity deletes the identity's faces and inserts the new ones in one transaction.
func (r *EnrolledFaceRepository) ReplaceIdentity(ctx context.Context, identityID string, faces []database.EnrolledFace) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM enrolled_faces WHERE identity_id = $1", identityID); err != nil {
		return fmt.Errorf("delete enrolled faces: %w", err)
	}

	for _, f := range faces {
		if len(f.Embedding) != database.FaceEmbeddingDim {
			return fmt.Errorf("face of %s from %s: embedding dimension %d, expected %d",
				identityID, f.Source, len(f.Embedding), database.FaceEmbeddingDim)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enrolled_faces (identity_id, embedding, det_score, source)
			VALUES ($1, $2, $3, $4)
		`, identityID, pgvector.NewVector(f.Embedding), f.DetScore, f.Source); err != nil {
			return fmt.Errorf("insert enrolled face: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrolled faces: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ database.EnrolledFaceWriter = (*EnrolledFaceRepository)(nil)
