package device

import (
	"context"
	"errors"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/skip2/go-qrcode"
)

// QRDecoder finds a QR code in a frame with gozxing.
type QRDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewQRDecoder() *QRDecoder {
	return &QRDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode implements kiosk.QRDecoder. A frame without a readable code yields
// no payloads and no error.
func (d *QRDecoder) Decode(ctx context.Context, frame kiosk.Frame) ([]string, error) {
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(frame.Image)
	if err != nil {
		return nil, err
	}

	// The reader keeps state between calls, so each frame gets a fresh one.
	result, err := zxqrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return nil, nil
	}
	return []string{result.GetText()}, nil
}

// QRRenderer encodes challenge payloads as PNG QR codes.
type QRRenderer struct {
	size int
}

func NewQRRenderer(size int) *QRRenderer {
	if size <= 0 {
		size = constants.QRCodeSize
	}
	return &QRRenderer{size: size}
}

// Render implements kiosk.QRRenderer.
func (r *QRRenderer) Render(payload string) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, r.size)
}

var (
	_ kiosk.QRDecoder  = (*QRDecoder)(nil)
	_ kiosk.QRRenderer = (*QRRenderer)(nil)
)
