// Package calibrate measures labelled sample images to tune the quality
// divisor for a new camera or lighting setup.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/teslashibe/go-formcam/pkg/quality"
	"gonum.org/v1/gonum/stat"
)

// ErrOverlap is returned by SuggestDivisor when the sharp and blurred sets
// are not separable at the 10th/90th percentiles. The suggestion is still
// returned.
var ErrOverlap = errors.New("calibrate: sharp and blurred magnitudes overlap")

// Sample is the measurement of one image file.
type Sample struct {
	Path   string
	Result quality.Result
}

// Measure scores every file. Unreadable or unscorable files are kept with
// Result.Err set so callers can report them.
func Measure(ctx context.Context, a *quality.Assessor, paths []string) []Sample {
	out := make([]Sample, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		data, err := os.ReadFile(p)
		if err != nil {
			out = append(out, Sample{Path: p, Result: quality.Result{Err: err}})
			continue
		}
		out = append(out, Sample{Path: p, Result: a.AssessEncoded(ctx, data)})
	}
	return out
}

// Magnitudes returns the mean gradient magnitudes of the scorable samples.
func Magnitudes(samples []Sample) []float64 {
	var xs []float64
	for _, s := range samples {
		if !s.Result.Failed() {
			xs = append(xs, s.Result.MeanMagnitude)
		}
	}
	return xs
}

// Summary describes a set of magnitudes.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P10    float64 `json:"p10"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
}

// Summarize computes descriptive statistics. An empty input yields a zero
// Summary.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	s := Summary{
		N:    len(sorted),
		Mean: stat.Mean(sorted, nil),
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		P10:  stat.Quantile(0.1, stat.Empirical, sorted, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:  stat.Quantile(0.9, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Cut returns the magnitude separating the two sets: the midpoint between
// the blurred 90th and the sharp 10th percentile.
func Cut(sharp, blurred Summary) float64 {
	return (blurred.P90 + sharp.P10) / 2
}

// SuggestDivisor returns the divisor that maps Cut to threshold, so frames
// on the sharp side score at or above it.
func SuggestDivisor(sharp, blurred Summary, threshold float64) (float64, error) {
	if sharp.N == 0 || blurred.N == 0 {
		return 0, errors.New("calibrate: need at least one sharp and one blurred sample")
	}
	if !(threshold > 0) || threshold > quality.MaxScore {
		return 0, fmt.Errorf("calibrate: threshold must be in (0, 100], got %v", threshold)
	}
	cut := Cut(sharp, blurred)
	if !(cut > 0) || math.IsInf(cut, 0) {
		return 0, fmt.Errorf("calibrate: degenerate cut %v", cut)
	}
	divisor := cut * quality.MaxScore / threshold
	if sharp.P10 <= blurred.P90 {
		return divisor, ErrOverlap
	}
	return divisor, nil
}
