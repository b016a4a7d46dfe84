package recognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/fingerprint"
	_ "golang.org/x/image/bmp" // register BMP decoder
)

// ErrNoFace is returned when a reference photo has no usable face.
var ErrNoFace = errors.New("no face found")

// ErrMultipleFaces is returned when a reference photo shows more than one usable face.
var ErrMultipleFaces = errors.New("more than one face found")

// Enroller turns reference photos into enrolled faces.
type Enroller struct {
	embedder    Embedder
	minDetScore float64
}

func NewEnroller(embedder Embedder, minDetScore float64) *Enroller {
	return &Enroller{embedder: embedder, minDetScore: minDetScore}
}

// EnrollPhoto detects the single face in a reference photo and returns its
// embedding. source is recorded for bookkeeping only.
func (e *Enroller) EnrollPhoto(ctx context.Context, identityID, source string, data []byte) (database.EnrolledFace, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return database.EnrolledFace{}, fmt.Errorf("decoding %s: %w", source, err)
	}
	encoded, err := fingerprint.EncodeJPEG(img, constants.MaxImageSize)
	if err != nil {
		return database.EnrolledFace{}, err
	}

	resp, err := e.embedder.ComputeFaceEmbeddings(ctx, encoded)
	if err != nil {
		return database.EnrolledFace{}, fmt.Errorf("computing embeddings for %s: %w", source, err)
	}

	usable := 0
	for _, f := range resp.Faces {
		if len(f.Embedding) > 0 && f.DetScore >= e.minDetScore {
			usable++
		}
	}
	switch {
	case usable == 0:
		return database.EnrolledFace{}, fmt.Errorf("%s: %w", source, ErrNoFace)
	case usable > 1:
		return database.EnrolledFace{}, fmt.Errorf("%s: %w (%d)", source, ErrMultipleFaces, usable)
	}

	best, _ := resp.Best(e.minDetScore)
	return database.EnrolledFace{
		IdentityID: identityID,
		Embedding:  best.Embedding,
		DetScore:   best.DetScore,
		Source:     source,
	}, nil
}
