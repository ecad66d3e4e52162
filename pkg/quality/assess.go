package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/frame"
)

// Result is the outcome of assessing one frame. Err is informational: when
// set, Score is always 0 so an unscorable frame can never pass as sharp.
type Result struct {
	Score         Score         `json:"score"`
	MeanMagnitude float64       `json:"mean_magnitude"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Elapsed       time.Duration `json:"elapsed"`
	Err           error         `json:"-"`
}

// Failed reports whether the frame could not be scored.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Assessor runs grayscale, Sobel and scoring over frames and resolves every
// failure to a zero score.
type Assessor struct {
	cfg    Config
	logger *slog.Logger
}

// NewAssessor creates an assessor with the given calibration.
func NewAssessor(cfg Config) *Assessor {
	return &Assessor{cfg: cfg}
}

// WithLogger sets the logger used for scoring reports.
func (a *Assessor) WithLogger(l *slog.Logger) *Assessor {
	a.logger = l
	return a
}

// Config returns the calibration in use.
func (a *Assessor) Config() Config {
	return a.cfg
}

// Assess scores an RGBA frame. It never returns an error and never panics.
func (a *Assessor) Assess(ctx context.Context, buf *frame.Buffer) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = Result{Err: fmt.Errorf("quality: panic during assessment: %v", p)}
		}
		res.Elapsed = time.Since(start)
		a.report(res)
	}()

	if buf != nil {
		res.Width, res.Height = buf.Width, buf.Height
	}
	score, stats, err := a.score(ctx, buf)
	if err != nil {
		res.Err = err
		return res
	}
	res.Score = score
	res.MeanMagnitude = stats.MeanMagnitude
	return res
}

// AssessEncoded decodes a still (JPEG, PNG, ...) and scores it. Decode
// failures resolve to a zero score like any other failure.
func (a *Assessor) AssessEncoded(ctx context.Context, data []byte) Result {
	buf, _, err := frame.DecodeBytes(data, a.cfg.maxPixels())
	if err != nil {
		res := Result{Err: fmt.Errorf("quality: %w", err)}
		a.report(res)
		return res
	}
	return a.Assess(ctx, buf)
}

func (a *Assessor) score(ctx context.Context, buf *frame.Buffer) (Score, Stats, error) {
	if !(a.cfg.Divisor > 0) {
		return 0, Stats{}, fmt.Errorf("quality: divisor must be > 0, got %v", a.cfg.Divisor)
	}
	gray, err := Grayscale(buf, a.cfg.maxPixels())
	if err != nil {
		return 0, Stats{}, err
	}
	gx, gy, err := Sobel(ctx, gray, a.cfg.maxPixels())
	if err != nil {
		return 0, Stats{}, err
	}
	return ScoreGradients(gx, gy, a.cfg.Divisor)
}

func (a *Assessor) report(res Result) {
	l := a.logger
	if l == nil {
		l = log.Component("quality")
	}
	if res.Err != nil {
		l.Warn("frame rejected as unscorable", "error", res.Err, "width", res.Width, "height", res.Height)
		return
	}
	l.Debug("frame scored",
		"score", float64(res.Score),
		"mean_magnitude", res.MeanMagnitude,
		"verdict", a.cfg.Verdict(res.Score),
		"elapsed", res.Elapsed)
}
