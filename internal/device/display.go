package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
)

// FileDisplay writes challenge codes to <dir>/<identity id>.png, where a
// kiosk screen or a print job picks them up.
type FileDisplay struct {
	dir string
}

func NewFileDisplay(dir string) (*FileDisplay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating QR directory: %w", err)
	}
	return &FileDisplay{dir: dir}, nil
}

// Path returns where the code of identityID is written.
func (d *FileDisplay) Path(identityID string) string {
	return filepath.Join(d.dir, filepath.Base(identityID)+".png")
}

// Show implements kiosk.Display.
func (d *FileDisplay) Show(identity roster.Identity, png []byte) error {
	path := d.Path(identity.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, png, 0o644); err != nil { //nolint:gosec // QR codes are not secret
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

var _ kiosk.Display = (*FileDisplay)(nil)
