package frame

// Synthetic frames for the mock camera, calibration fixtures and tests.

// Uniform returns an RGBA buffer filled with a single opaque color.
func Uniform(w, h int, r, g, b uint8) (*Buffer, error) {
	buf, err := Alloc(w, h, RGBA)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(buf.Pix); i += 4 {
		buf.Pix[i] = r
		buf.Pix[i+1] = g
		buf.Pix[i+2] = b
		buf.Pix[i+3] = 0xff
	}
	return buf, nil
}

// Checkerboard returns a black/white RGBA checkerboard with square cells
// of the given size in pixels.
func Checkerboard(w, h, cell int) (*Buffer, error) {
	if cell < 1 {
		cell = 1
	}
	buf, err := Alloc(w, h, RGBA)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if ((x/cell)+(y/cell))%2 == 0 {
				v = 0xff
			}
			i := (y*w + x) * 4
			buf.Pix[i] = v
			buf.Pix[i+1] = v
			buf.Pix[i+2] = v
			buf.Pix[i+3] = 0xff
		}
	}
	return buf, nil
}

// BoxBlur returns a copy of b averaged over a (2*radius+1)^2 window with
// clamp-to-edge borders. Used to fake an out-of-focus capture.
func BoxBlur(b *Buffer, radius int) *Buffer {
	out := b.Clone()
	if radius < 1 {
		return out
	}
	w, h, c := b.Width, b.Height, b.Channels
	tmp := make([]int, len(b.Pix))
	n := 2*radius + 1

	// Horizontal pass into tmp, vertical pass into out.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				sum := 0
				for k := -radius; k <= radius; k++ {
					sum += int(b.Pix[(y*w+clamp(x+k, w))*c+ch])
				}
				tmp[(y*w+x)*c+ch] = sum
			}
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				sum := 0
				for k := -radius; k <= radius; k++ {
					sum += tmp[(clamp(y+k, h)*w+x)*c+ch]
				}
				out.Pix[(y*w+x)*c+ch] = uint8(sum / (n * n))
			}
		}
	}
	return out
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
