package qr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const DefaultPNGSize = 256

// RenderPNG encodes the code as a QR image for the venue display.
func RenderPNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultPNGSize
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return png, nil
}
