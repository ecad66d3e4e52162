// quality-check scores image files for blur and, given labelled sets of
// sharp and blurred captures, suggests a divisor for the current setup.
//
// Usage:
//
//	quality-check form1.jpg form2.png
//	quality-check -sharp ./sharp -blurred ./blurred -plot hist.png
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/calibrate"
	"github.com/teslashibe/go-formcam/pkg/quality"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

func main() {
	sharpDir := flag.String("sharp", "", "Directory of known-sharp captures")
	blurredDir := flag.String("blurred", "", "Directory of known-blurred captures")
	plotPath := flag.String("plot", "", "Write a magnitude histogram (png, svg, pdf)")
	threshold := flag.Float64("threshold", quality.DefaultConfig().Threshold, "Acceptance threshold (0-100)")
	divisor := flag.Float64("divisor", quality.DefaultConfig().Divisor, "Score normalization divisor")
	asJSON := flag.Bool("json", false, "Print results as JSON")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	cfg := quality.DefaultConfig()
	cfg.Threshold, cfg.Divisor = *threshold, *divisor
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}
	assessor := quality.NewAssessor(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *sharpDir != "" || *blurredDir != "" {
		if err := runCalibration(ctx, assessor, *sharpDir, *blurredDir, *plotPath, *asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	samples := calibrate.Measure(ctx, assessor, flag.Args())
	if *asJSON {
		printJSON(samplesJSON(samples, cfg))
		return
	}
	printSamples(samples, cfg)
}

func runCalibration(ctx context.Context, a *quality.Assessor, sharpDir, blurredDir, plotPath string, asJSON bool) error {
	if sharpDir == "" || blurredDir == "" {
		return errors.New("calibration needs both -sharp and -blurred")
	}
	sharpFiles, err := listImages(sharpDir)
	if err != nil {
		return err
	}
	blurredFiles, err := listImages(blurredDir)
	if err != nil {
		return err
	}

	sharp := calibrate.Magnitudes(calibrate.Measure(ctx, a, sharpFiles))
	blurred := calibrate.Magnitudes(calibrate.Measure(ctx, a, blurredFiles))
	sharpSum, blurredSum := calibrate.Summarize(sharp), calibrate.Summarize(blurred)

	cfg := a.Config()
	suggested, err := calibrate.SuggestDivisor(sharpSum, blurredSum, cfg.Threshold)
	overlap := errors.Is(err, calibrate.ErrOverlap)
	if err != nil && !overlap {
		return err
	}

	if plotPath != "" {
		if err := calibrate.PlotHistogram(plotPath, sharp, blurred, calibrate.Cut(sharpSum, blurredSum)); err != nil {
			return err
		}
	}

	if asJSON {
		printJSON(map[string]any{
			"sharp":             sharpSum,
			"blurred":           blurredSum,
			"cut":               calibrate.Cut(sharpSum, blurredSum),
			"threshold":         cfg.Threshold,
			"current_divisor":   cfg.Divisor,
			"suggested_divisor": suggested,
			"overlap":           overlap,
		})
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SET\tN\tMEAN\tSTDDEV\tP10\tP50\tP90")
	for _, row := range []struct {
		name string
		s    calibrate.Summary
	}{{"sharp", sharpSum}, {"blurred", blurredSum}} {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			row.name, row.s.N, row.s.Mean, row.s.StdDev, row.s.P10, row.s.P50, row.s.P90)
	}
	w.Flush()

	fmt.Printf("\nCut magnitude:      %.2f\n", calibrate.Cut(sharpSum, blurredSum))
	fmt.Printf("Current divisor:    %.2f\n", cfg.Divisor)
	fmt.Printf("Suggested divisor:  %.2f (threshold %.0f)\n", suggested, cfg.Threshold)
	if overlap {
		fmt.Println("⚠️  Sharp and blurred sets overlap; the suggestion will misclassify some frames.")
	}
	if plotPath != "" {
		fmt.Printf("Histogram written to %s\n", plotPath)
	}
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	return out, nil
}

type sampleJSON struct {
	Path          string  `json:"path"`
	Score         float64 `json:"score"`
	Verdict       string  `json:"verdict"`
	MeanMagnitude float64 `json:"mean_magnitude"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Error         string  `json:"error,omitempty"`
}

func samplesJSON(samples []calibrate.Sample, cfg quality.Config) []sampleJSON {
	out := make([]sampleJSON, 0, len(samples))
	for _, s := range samples {
		row := sampleJSON{
			Path:          s.Path,
			Score:         float64(s.Result.Score),
			Verdict:       string(cfg.Verdict(s.Result.Score)),
			MeanMagnitude: s.Result.MeanMagnitude,
			Width:         s.Result.Width,
			Height:        s.Result.Height,
		}
		if s.Result.Err != nil {
			row.Error = s.Result.Err.Error()
		}
		out = append(out, row)
	}
	return out
}

func printSamples(samples []calibrate.Sample, cfg quality.Config) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSIZE\tMAGNITUDE\tSCORE\tVERDICT")
	for _, s := range samples {
		if s.Result.Failed() {
			fmt.Fprintf(w, "%s\t-\t-\t0.0\t%s (%v)\n", s.Path, quality.VerdictBlurred, s.Result.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%dx%d\t%.2f\t%.1f\t%s\n",
			s.Path, s.Result.Width, s.Result.Height, s.Result.MeanMagnitude,
			float64(s.Result.Score), cfg.Verdict(s.Result.Score))
	}
	w.Flush()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
