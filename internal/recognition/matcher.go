// Package recognition matches camera frames against enrolled faces using the
// embedding server and the HNSW face index.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/fingerprint"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
)

const (
	// unchangedFrameDistance is the dHash distance under which a frame counts as unchanged.
	unchangedFrameDistance = 2
	// trackingIoU is the overlap at which a face is taken to be the one picked in the previous frame.
	trackingIoU = 0.3
)

// Embedder detects faces in an encoded image and returns their embeddings.
type Embedder interface {
	ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*fingerprint.FaceResponse, error)
}

// Index finds the nearest enrolled faces.
type Index interface {
	Search(query []float32, k int) ([]database.Neighbor, error)
}

type Config struct {
	// DistanceThreshold is the maximum cosine distance accepted as a match.
	DistanceThreshold float64
	// ScaleFactor shrinks frames before detection. 1 keeps full resolution.
	ScaleFactor int
	MinDetScore float64
	// MinFaceArea ignores faces covering less of the frame, e.g. people in the background.
	MinFaceArea float64
	// SkipUnchanged reuses the previous result for frames that look the same.
	SkipUnchanged bool
}

func DefaultConfig() Config {
	return Config{
		DistanceThreshold: constants.DefaultDistanceThreshold,
		ScaleFactor:       2,
		MinDetScore:       constants.MinDetScore,
		SkipUnchanged:     true,
	}
}

// Matcher implements kiosk.IdentityMatcher.
type Matcher struct {
	embedder Embedder
	index    Index
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	hasLast  bool
	lastHash uint64
	last     kiosk.Match
	lastBBox []float64
}

func NewMatcher(embedder Embedder, index Index, cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger,
	}
}

// Match returns the enrolled identity closest to the most prominent face of
// the frame, or kiosk.Unknown when there is no face or no close enough match.
func (m *Matcher) Match(ctx context.Context, frame kiosk.Frame) (kiosk.Match, error) {
	if frame.Image == nil {
		return kiosk.Unknown, errors.New("frame has no image")
	}

	var hash uint64
	if m.cfg.SkipUnchanged {
		hash = fingerprint.DHash(frame.Image)
		m.mu.Lock()
		if m.hasLast && fingerprint.HammingDistance(hash, m.lastHash) <= unchangedFrameDistance {
			match := m.last
			m.mu.Unlock()
			return match, nil
		}
		m.mu.Unlock()
	}

	small := fingerprint.Downscale(frame.Image, m.cfg.ScaleFactor)
	data, err := fingerprint.EncodeJPEG(small, constants.MaxImageSize)
	if err != nil {
		return kiosk.Unknown, err
	}

	resp, err := m.embedder.ComputeFaceEmbeddings(ctx, data)
	if err != nil {
		return kiosk.Unknown, fmt.Errorf("computing face embeddings: %w", err)
	}

	m.mu.Lock()
	prev := m.lastBBox
	m.mu.Unlock()

	face, ok := m.selectFace(resp, small.Bounds(), prev)
	match := kiosk.Unknown
	if ok {
		match, err = m.lookup(face)
		if err != nil {
			return kiosk.Unknown, err
		}
	}

	m.mu.Lock()
	m.hasLast = m.cfg.SkipUnchanged
	m.lastHash = hash
	m.last = match
	m.lastBBox = nil
	if ok {
		m.lastBBox = face.BBox
	}
	m.mu.Unlock()

	return match, nil
}

func (m *Matcher) lookup(face fingerprint.FaceDetection) (kiosk.Match, error) {
	neighbors, err := m.index.Search(face.Embedding, 1)
	if errors.Is(err, database.ErrIndexEmpty) {
		return kiosk.Unknown, nil
	}
	if err != nil {
		return kiosk.Unknown, fmt.Errorf("searching face index: %w", err)
	}
	if len(neighbors) == 0 {
		return kiosk.Unknown, nil
	}

	best := neighbors[0]
	if best.Distance > m.cfg.DistanceThreshold {
		m.logger.Debug("face not recognized", "nearest", best.Face.IdentityID, "distance", best.Distance)
		return kiosk.Match{Distance: best.Distance}, nil
	}
	return kiosk.Match{
		IdentityID: best.Face.IdentityID,
		Known:      true,
		Distance:   best.Distance,
		Confidence: 1 - best.Distance,
	}, nil
}

// selectFace picks the face to recognize: the one overlapping the previous
// pick if any, otherwise the highest scoring one. Faces below MinDetScore or
// MinFaceArea are ignored.
func (m *Matcher) selectFace(resp *fingerprint.FaceResponse, bounds image.Rectangle, prev []float64) (fingerprint.FaceDetection, bool) {
	if resp == nil {
		return fingerprint.FaceDetection{}, false
	}

	candidates := &fingerprint.FaceResponse{}
	for _, f := range resp.Faces {
		if m.cfg.MinFaceArea > 0 && len(f.BBox) == 4 && relativeArea(f.BBox, bounds.Dx(), bounds.Dy()) < m.cfg.MinFaceArea {
			continue
		}
		candidates.Faces = append(candidates.Faces, f)
	}

	if prev != nil {
		var tracked fingerprint.FaceDetection
		bestIoU := 0.0
		for _, f := range candidates.Faces {
			if len(f.Embedding) == 0 || f.DetScore < m.cfg.MinDetScore {
				continue
			}
			if iou := computeIoU(prev, f.BBox); iou >= trackingIoU && iou > bestIoU {
				tracked, bestIoU = f, iou
			}
		}
		if bestIoU > 0 {
			return tracked, true
		}
	}

	return candidates.Best(m.cfg.MinDetScore)
}

var _ kiosk.IdentityMatcher = (*Matcher)(nil)
