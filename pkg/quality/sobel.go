package quality

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

// ErrNotLuma is returned when Sobel gets a multi-channel buffer.
var ErrNotLuma = errors.New("quality: sobel input must have 1 channel")

// GradientField holds one signed directional derivative per pixel.
type GradientField struct {
	Width  int
	Height int
	Data   []int32
}

// rowsPerCheck bounds how much work runs between context checks.
const rowsPerCheck = 64

// Sobel convolves a luma buffer with the 3x3 Sobel kernels
//
//	Kx = [-1 0 1; -2 0 2; -1 0 1]    Ky = [-1 -2 -1; 0 0 0; 1 2 1]
//
// Borders are clamp-to-edge: out-of-range neighbours take the value of the
// nearest edge pixel, so every pixel (border included) gets a sample and a
// flat image yields zero everywhere. maxPixels is the same ceiling the
// luma buffer was produced under (0 selects the default).
func Sobel(ctx context.Context, luma *frame.Buffer, maxPixels int) (gx, gy GradientField, err error) {
	if err := luma.Validate(maxPixels); err != nil {
		return gx, gy, fmt.Errorf("sobel: %w", err)
	}
	if luma.Channels != frame.Luma {
		return gx, gy, fmt.Errorf("%w: got %d", ErrNotLuma, luma.Channels)
	}

	w, h := luma.Width, luma.Height
	dx := make([]int32, w*h)
	dy := make([]int32, w*h)
	p := luma.Pix

	for y := 0; y < h; y++ {
		if y%rowsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return gx, gy, err
			}
		}
		up := p[edge(y-1, h)*w:][:w]
		mid := p[y*w:][:w]
		down := p[edge(y+1, h)*w:][:w]

		for x := 0; x < w; x++ {
			l, r := edge(x-1, w), edge(x+1, w)

			tl, tc, tr := int32(up[l]), int32(up[x]), int32(up[r])
			ml, mr := int32(mid[l]), int32(mid[r])
			bl, bc, br := int32(down[l]), int32(down[x]), int32(down[r])

			dx[y*w+x] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			dy[y*w+x] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}

	return GradientField{Width: w, Height: h, Data: dx},
		GradientField{Width: w, Height: h, Data: dy}, nil
}

// edge clamps an index into [0, n).
func edge(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
