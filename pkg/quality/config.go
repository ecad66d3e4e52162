// Package quality scores still frames for blur.
//
// The pipeline is grayscale conversion, a 3x3 Sobel derivative pair and a
// mean gradient magnitude normalized to [0, 100]. Higher is sharper. The
// normalization divisor and the acceptance threshold are calibration values
// taken from Config, never compiled in.
package quality

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

// Config holds the scorer calibration and acceptance policy.
type Config struct {
	// Divisor maps mean gradient magnitude to score: score = mean/Divisor*100.
	Divisor float64 `json:"divisor"`

	// Threshold is the acceptance policy: scores below it read as blurred.
	// The scorer never applies it; callers do via Verdict.
	Threshold float64 `json:"threshold"`

	// MaxPixels is the safety ceiling on Width*Height.
	MaxPixels int `json:"max_pixels"`

	// Reference magnitudes observed during calibration. Informational;
	// used by the calibrate tooling to report drift.
	SharpMagnitude   float64 `json:"sharp_magnitude"`
	BlurredMagnitude float64 `json:"blurred_magnitude"`
}

// DefaultConfig returns the calibration observed on handheld phone captures
// of paper forms: mean magnitude above ~30 reads sharp, below ~15 blurred.
func DefaultConfig() Config {
	return Config{
		Divisor:          50,
		Threshold:        60,
		MaxPixels:        frame.MaxPixels,
		SharpMagnitude:   30,
		BlurredMagnitude: 15,
	}
}

// Validate checks the config values are usable.
func (c Config) Validate() error {
	var errs []error
	if !(c.Divisor > 0) {
		errs = append(errs, fmt.Errorf("divisor must be > 0, got %v", c.Divisor))
	}
	if c.Threshold < 0 || c.Threshold > MaxScore {
		errs = append(errs, fmt.Errorf("threshold must be between 0 and 100, got %v", c.Threshold))
	}
	if c.MaxPixels < 0 {
		errs = append(errs, fmt.Errorf("max_pixels must be >= 0, got %d", c.MaxPixels))
	}
	return errors.Join(errs...)
}

func (c Config) maxPixels() int {
	if c.MaxPixels <= 0 {
		return frame.MaxPixels
	}
	return c.MaxPixels
}

// Verdict is the acceptance decision derived from a score.
type Verdict string

const (
	VerdictAcceptable Verdict = "acceptable"
	VerdictBlurred    Verdict = "blurred"
)

// Verdict applies the threshold policy. A score exactly at the threshold
// is acceptable.
func (c Config) Verdict(s Score) Verdict {
	if s.Acceptable(c.Threshold) {
		return VerdictAcceptable
	}
	return VerdictBlurred
}
