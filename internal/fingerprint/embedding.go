package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultTimeout      = 10 * time.Second

	faceEndpoint     = "/embed/face"
	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// ErrEmbeddingServer is returned when the embedding server answers with a non-200 status.
var ErrEmbeddingServer = errors.New("embedding server error")

// EmbeddingClient sends camera frames and reference photos to the face
// embedding server and returns the detected faces.
type EmbeddingClient struct {
	baseURL string
	client  *http.Client
}

func NewEmbeddingClient(baseURL string) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// ComputeFaceEmbeddings detects faces in an encoded image and computes their embeddings.
func (c *EmbeddingClient) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postImage(ctx, faceEndpoint, imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse face response: %w", err)
	}
	faceResp.FacesCount = len(faceResp.Faces)
	return &faceResp, nil
}

// postImage uploads imageData as the "file" part of a multipart form.
func (c *EmbeddingClient) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType, filename := imagePart(imageData)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w (status %d): %s", ErrEmbeddingServer, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// imagePart sniffs the image format for the part headers. Anything that is
// not an image is sent as an opaque blob and left for the server to reject.
func imagePart(data []byte) (contentType, filename string) {
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg":
		return ct, "frame.jpg"
	case "image/png":
		return ct, "frame.png"
	case "image/bmp":
		return ct, "frame.bmp"
	default:
		return "application/octet-stream", "frame.bin"
	}
}
