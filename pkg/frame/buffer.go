// Package frame provides the pixel buffer shared by camera sources and the
// quality scorer.
//
// A Buffer is a tightly packed, row-major grid of 8-bit samples with either
// one (luma) or four (RGBA) channels per pixel. Buffers are validated on
// construction and never exist in a degenerate shape: zero, negative or
// oversized dimensions fail closed.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
)

// Channel counts.
const (
	Luma = 1
	RGBA = 4
)

// MaxPixels is the default safety ceiling on Width*Height (~16384x16384).
const MaxPixels = 268_435_456

// Sentinel errors for buffer construction.
var (
	// ErrInvalidDimensions is returned for zero, negative or non-finite sizes.
	ErrInvalidDimensions = errors.New("frame: invalid dimensions")

	// ErrTooLarge is returned when Width*Height exceeds the pixel ceiling.
	ErrTooLarge = errors.New("frame: pixel count exceeds ceiling")

	// ErrChannels is returned for channel counts other than 1 or 4.
	ErrChannels = errors.New("frame: unsupported channel count")

	// ErrShortData is returned when the sample slice does not match the shape.
	ErrShortData = errors.New("frame: sample data does not match dimensions")
)

// Buffer is a rectangular grid of 8-bit samples.
type Buffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// CheckDimensions validates a width/height pair against a pixel ceiling.
// A non-positive maxPixels selects MaxPixels.
func CheckDimensions(w, h, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = MaxPixels
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	// w*h may overflow on 32-bit platforms; compare via division.
	if w > maxPixels/h {
		return fmt.Errorf("%w: %dx%d > %d", ErrTooLarge, w, h, maxPixels)
	}
	return nil
}

// DimensionsFromFloat converts driver-reported dimensions to integers.
// NaN, infinities and fractional values are rejected.
func DimensionsFromFloat(w, h float64, maxPixels int) (int, int, error) {
	for _, v := range []float64{w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("%w: non-finite %v", ErrInvalidDimensions, v)
		}
		if v != math.Trunc(v) {
			return 0, 0, fmt.Errorf("%w: fractional %v", ErrInvalidDimensions, v)
		}
		if v <= 0 || v > math.MaxInt32 {
			return 0, 0, fmt.Errorf("%w: %v", ErrInvalidDimensions, v)
		}
	}
	iw, ih := int(w), int(h)
	if err := CheckDimensions(iw, ih, maxPixels); err != nil {
		return 0, 0, err
	}
	return iw, ih, nil
}

// New validates and wraps pix as a Buffer using the default ceiling.
// The slice is not copied; the Buffer takes ownership.
func New(w, h, channels int, pix []uint8) (*Buffer, error) {
	return NewWithLimit(w, h, channels, pix, MaxPixels)
}

// NewWithLimit is New with a caller-supplied pixel ceiling.
func NewWithLimit(w, h, channels int, pix []uint8, maxPixels int) (*Buffer, error) {
	if err := CheckDimensions(w, h, maxPixels); err != nil {
		return nil, err
	}
	if channels != Luma && channels != RGBA {
		return nil, fmt.Errorf("%w: %d", ErrChannels, channels)
	}
	if len(pix) != w*h*channels {
		return nil, fmt.Errorf("%w: have %d samples, want %d", ErrShortData, len(pix), w*h*channels)
	}
	return &Buffer{Width: w, Height: h, Channels: channels, Pix: pix}, nil
}

// Alloc returns a zeroed buffer of the given shape.
func Alloc(w, h, channels int) (*Buffer, error) {
	if err := CheckDimensions(w, h, MaxPixels); err != nil {
		return nil, err
	}
	if channels != Luma && channels != RGBA {
		return nil, fmt.Errorf("%w: %d", ErrChannels, channels)
	}
	return &Buffer{Width: w, Height: h, Channels: channels, Pix: make([]uint8, w*h*channels)}, nil
}

// Validate re-checks the buffer shape. Buffers built by hand (or mutated
// after construction) go through this before processing.
func (b *Buffer) Validate(maxPixels int) error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidDimensions)
	}
	_, err := NewWithLimit(b.Width, b.Height, b.Channels, b.Pix, maxPixels)
	return err
}

// Pixels returns Width*Height.
func (b *Buffer) Pixels() int {
	return b.Width * b.Height
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Width: b.Width, Height: b.Height, Channels: b.Channels, Pix: pix}
}

// Image returns an image.Image view sharing the buffer's samples.
func (b *Buffer) Image() image.Image {
	r := image.Rect(0, 0, b.Width, b.Height)
	if b.Channels == Luma {
		return &image.Gray{Pix: b.Pix, Stride: b.Width, Rect: r}
	}
	return &image.RGBA{Pix: b.Pix, Stride: b.Width * 4, Rect: r}
}

// FromImage converts any image to a packed RGBA buffer.
func FromImage(img image.Image, maxPixels int) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidDimensions)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if err := CheckDimensions(w, h, maxPixels); err != nil {
		return nil, err
	}

	// Fast path: already packed RGBA at the origin.
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == w*4 && bounds.Min == (image.Point{}) {
		pix := make([]uint8, len(rgba.Pix[:w*h*4]))
		copy(pix, rgba.Pix)
		return &Buffer{Width: w, Height: h, Channels: RGBA, Pix: pix}, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)
	return &Buffer{Width: w, Height: h, Channels: RGBA, Pix: dst.Pix}, nil
}
