package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// ErrIndexEmpty is returned by Search on an index without faces.
var ErrIndexEmpty = errors.New("face index is empty")

// FaceIndexMetadata is written next to a persisted index.
type FaceIndexMetadata struct {
	FaceCount  int       `json:"face_count"`
	Identities int       `json:"identities"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
}

const faceIndexMetadataVersion = 1

// FaceIndex wraps the HNSW graph for nearest-enrolled-face search.
type FaceIndex struct {
	graph    *hnsw.Graph[int64]
	idToFace map[int64]*EnrolledFace
	mu       sync.RWMutex
}

// Neighbor is a search hit.
type Neighbor struct {
	Face     EnrolledFace
	Distance float64 // cosine distance, 0 identical, 2 opposite
}

func NewFaceIndex() *FaceIndex {
	return &FaceIndex{
		idToFace: make(map[int64]*EnrolledFace),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromFaces replaces the index content. Faces without an embedding are skipped.
func (h *FaceIndex) BuildFromFaces(faces []EnrolledFace) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.idToFace = make(map[int64]*EnrolledFace, len(faces))

	dim := 0
	for i := range faces {
		face := faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(face.Embedding)
		}
		if len(face.Embedding) != dim {
			return fmt.Errorf("face %d of %s: embedding dimension %d, expected %d", face.ID, face.IdentityID, len(face.Embedding), dim)
		}
		if _, dup := h.idToFace[face.ID]; dup {
			return fmt.Errorf("duplicate face id %d", face.ID)
		}

		if h.graph == nil {
			h.graph = newGraph()
		}
		h.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
		h.idToFace[face.ID] = &face
	}

	return nil
}

// Search finds the k nearest enrolled faces to the query embedding, closest first.
func (h *FaceIndex) Search(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.idToFace) == 0 {
		return nil, ErrIndexEmpty
	}
	if dim := h.graph.Dims(); dim != len(query) {
		return nil, fmt.Errorf("query dimension %d, index dimension %d", len(query), dim)
	}

	nodes := h.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		face, ok := h.idToFace[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			Face:     *face,
			Distance: float64(hnsw.CosineDistance(query, n.Value)),
		})
	}
	return out, nil
}

// GetFace returns the face for a given ID.
func (h *FaceIndex) GetFace(id int64) (EnrolledFace, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	face, ok := h.idToFace[id]
	if !ok {
		return EnrolledFace{}, false
	}
	return *face, true
}

// Count returns the number of indexed faces.
func (h *FaceIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToFace)
}

// Identities returns the number of distinct identities in the index.
func (h *FaceIndex) Identities() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, f := range h.idToFace {
		seen[f.IdentityID] = struct{}{}
	}
	return len(seen)
}

// Faces returns a copy of all indexed faces.
func (h *FaceIndex) Faces() []EnrolledFace {
	h.mu.RLock()
	defer h.mu.RUnlock()
	faces := make([]EnrolledFace, 0, len(h.idToFace))
	for _, f := range h.idToFace {
		faces = append(faces, *f)
	}
	return faces
}

// SaveFaceMetadata saves enrolled faces to a .faces file for fast loading at startup.
func SaveFaceMetadata(path string, faces []EnrolledFace) error {
	facesPath := path + ".faces"

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(faces); err != nil {
		return fmt.Errorf("failed to encode faces: %w", err)
	}

	if err := os.WriteFile(facesPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write faces file: %w", err)
	}

	return nil
}

// LoadFaceMetadata loads enrolled faces from a .faces file.
func LoadFaceMetadata(path string) ([]EnrolledFace, error) {
	facesPath := path + ".faces"

	data, err := os.ReadFile(facesPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read faces file: %w", err)
	}

	var faces []EnrolledFace
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&faces); err != nil {
		return nil, fmt.Errorf("failed to decode faces: %w", err)
	}

	return faces, nil
}

// LoadFaceIndexMetadata loads metadata from a separate .meta file.
func LoadFaceIndexMetadata(path string) (FaceIndexMetadata, error) {
	var metadata FaceIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// LoadWithFaceMetadata loads both the HNSW graph and face metadata from disk.
func (h *FaceIndex) LoadWithFaceMetadata(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("face index file: %w", err)
	}

	faces, err := LoadFaceMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load face metadata: %w", err)
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open face index: %w", err)
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(f); err != nil {
		return fmt.Errorf("failed to import face index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = g
	h.idToFace = make(map[int64]*EnrolledFace, len(faces))
	for i := range faces {
		h.idToFace[faces[i].ID] = &faces[i]
	}
	return nil
}

// SaveWithFaceMetadata persists the graph, a .meta file and a .faces file.
func (h *FaceIndex) SaveWithFaceMetadata(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".faces")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create face index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export face index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing face index file: %w", err)
	}

	faces := make([]EnrolledFace, 0, len(h.idToFace))
	identities := make(map[string]struct{})
	for _, face := range h.idToFace {
		faces = append(faces, *face)
		identities[face.IdentityID] = struct{}{}
	}

	metaData, err := json.Marshal(FaceIndexMetadata{
		FaceCount:  len(faces),
		Identities: len(identities),
		BuildTime:  time.Now(),
		Version:    faceIndexMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	if err := SaveFaceMetadata(path, faces); err != nil {
		return fmt.Errorf("failed to save face metadata: %w", err)
	}
	return nil
}
