package quality

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

// ErrNotRGBA is returned when grayscale conversion gets a non-RGBA buffer.
var ErrNotRGBA = errors.New("quality: grayscale input must have 4 channels")

// BT.601 luma weights in Q14 fixed point (0.299, 0.587, 0.114).
// Thresholds in Config are calibrated against exactly these weights.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
	lumaRound = 1 << (lumaShift - 1)
)

// Grayscale reduces an RGBA buffer to a single luma channel. Alpha is
// ignored. The input is re-validated against maxPixels (0 selects the
// default ceiling) since buffers may have been built by hand.
func Grayscale(src *frame.Buffer, maxPixels int) (*frame.Buffer, error) {
	if err := src.Validate(maxPixels); err != nil {
		return nil, fmt.Errorf("grayscale: %w", err)
	}
	if src.Channels != frame.RGBA {
		return nil, fmt.Errorf("%w: got %d", ErrNotRGBA, src.Channels)
	}

	n := src.Pixels()
	out := make([]uint8, n)
	pix := src.Pix
	for i, j := 0, 0; i < n; i, j = i+1, j+4 {
		r, g, b := uint32(pix[j]), uint32(pix[j+1]), uint32(pix[j+2])
		out[i] = uint8((r*lumaR + g*lumaG + b*lumaB + lumaRound) >> lumaShift)
	}
	return &frame.Buffer{Width: src.Width, Height: src.Height, Channels: frame.Luma, Pix: out}, nil
}
