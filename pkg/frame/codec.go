package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	// Decoders for stills submitted outside the live camera path.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality matches the quality used for captured stills.
const DefaultJPEGQuality = 90

// Decode reads an encoded still into an RGBA buffer. The header is checked
// against the pixel ceiling before the full image is decoded, so oversized
// payloads are rejected without allocating their pixels.
func Decode(r io.Reader, maxPixels int) (*Buffer, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("frame: read: %w", err)
	}
	return DecodeBytes(data, maxPixels)
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte, maxPixels int) (*Buffer, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("frame: decode header: %w", err)
	}
	if err := CheckDimensions(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, format, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("frame: decode %s: %w", format, err)
	}
	buf, err := FromImage(img, maxPixels)
	return buf, format, err
}

// EncodeJPEG writes the buffer as a JPEG. Quality outside 1-100 selects
// DefaultJPEGQuality.
func EncodeJPEG(w io.Writer, b *Buffer, quality int) error {
	if err := b.Validate(0); err != nil {
		return err
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return jpeg.Encode(w, b.Image(), &jpeg.Options{Quality: quality})
}

// JPEG returns the buffer encoded as JPEG bytes.
func JPEG(b *Buffer, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, b, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
