package fingerprint

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Best returns the detection with the highest score at or above minScore.
// Detections without an embedding are ignored.
func (r *FaceResponse) Best(minScore float64) (FaceDetection, bool) {
	var best FaceDetection
	found := false
	for _, f := range r.Faces {
		if len(f.Embedding) == 0 || f.DetScore < minScore {
			continue
		}
		if !found || f.DetScore > best.DetScore {
			best = f
			found = true
		}
	}
	return best, found
}
