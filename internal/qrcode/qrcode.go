// Package qrcode renders chat-network pairing strings into PNG images
// suitable for embedding as a base64 data payload in an HTTP response.
package qrcode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"rsc.io/qr"
)

// quietZoneModules is the number of blank modules padded around the
// symbol on each side.
const quietZoneModules = 2

// Encode renders raw into a PNG-encoded QR code at error-correction level M
// and returns it as a base64 string, ready to embed in
// {contentType:"image/png", base64:...}.
func Encode(raw string) (string, error) {
	code, err := qr.Encode(raw, qr.M)
	if err != nil {
		return "", fmt.Errorf("qrcode: encode: %w", err)
	}

	img := withQuietZone(code, quietZoneModules)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("qrcode: png encode: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// withQuietZone pads code's image with margin blank modules of white on
// every side. rsc.io/qr's own Image() has no margin support, so the
// padding is applied manually at the pixel level (code.Image() draws one
// pixel per module).
func withQuietZone(code *qr.Code, margin int) image.Image {
	src := code.Image()
	b := src.Bounds()
	padded := image.NewGray(image.Rect(0, 0, b.Dx()+margin*2, b.Dy()+margin*2))

	for y := 0; y < padded.Bounds().Dy(); y++ {
		for x := 0; x < padded.Bounds().Dx(); x++ {
			padded.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			padded.Set(x+margin, y+margin, src.At(x, y))
		}
	}

	return padded
}
