package quality

import (
	"errors"
	"fmt"
	"math"
)

// ErrFieldMismatch is returned when the two gradient fields do not describe
// the same non-empty grid.
var ErrFieldMismatch = errors.New("quality: gradient fields mismatch")

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Score is a sharpness score clamped to [0, 100]. Higher is sharper.
type Score float64

// Acceptable reports whether the score meets the threshold.
func (s Score) Acceptable(threshold float64) bool {
	return float64(s) >= threshold
}

// Stats are the intermediate values behind a score.
type Stats struct {
	MeanMagnitude float64
	Pixels        int
}

// ScoreGradients reduces a Sobel pair to a score:
// mean(sqrt(gx²+gy²)) / divisor * 100, clamped to [0, 100].
func ScoreGradients(gx, gy GradientField, divisor float64) (Score, Stats, error) {
	n := gx.Width * gx.Height
	switch {
	case gx.Width <= 0 || gx.Height <= 0:
		return 0, Stats{}, fmt.Errorf("%w: empty field %dx%d", ErrFieldMismatch, gx.Width, gx.Height)
	case gx.Width != gy.Width || gx.Height != gy.Height:
		return 0, Stats{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrFieldMismatch, gx.Width, gx.Height, gy.Width, gy.Height)
	case len(gx.Data) != n || len(gy.Data) != n:
		return 0, Stats{}, fmt.Errorf("%w: sample count", ErrFieldMismatch)
	}
	if !(divisor > 0) {
		return 0, Stats{}, fmt.Errorf("quality: divisor must be > 0, got %v", divisor)
	}

	var sum float64
	for i := 0; i < n; i++ {
		x, y := float64(gx.Data[i]), float64(gy.Data[i])
		sum += math.Sqrt(x*x + y*y)
	}
	mean := sum / float64(n)

	return clampScore(mean / divisor * 100), Stats{MeanMagnitude: mean, Pixels: n}, nil
}

func clampScore(v float64) Score {
	if math.IsNaN(v) {
		return MinScore
	}
	return Score(math.Min(MaxScore, math.Max(MinScore, v)))
}
