// Package device binds the kiosk capabilities to concrete hardware and files.
package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	_ "golang.org/x/image/bmp" // register BMP decoder
)

const (
	cameraTimeout    = 5 * time.Second
	maxSnapshotBytes = 20 << 20
)

// SnapshotCamera fetches single frames from an HTTP snapshot endpoint, as
// served by mjpg-streamer, motion or an IP camera.
type SnapshotCamera struct {
	url    string
	client *http.Client
}

func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{
		url:    url,
		client: &http.Client{Timeout: cameraTimeout},
	}
}

// Capture implements kiosk.FrameSource.
func (c *SnapshotCamera) Capture(ctx context.Context) (kiosk.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return kiosk.Frame{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return kiosk.Frame{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return kiosk.Frame{}, fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return kiosk.Frame{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return kiosk.Frame{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return kiosk.Frame{
		Image:      img,
		Raw:        raw,
		Format:     format,
		CapturedAt: time.Now(),
	}, nil
}

var _ kiosk.FrameSource = (*SnapshotCamera)(nil)
