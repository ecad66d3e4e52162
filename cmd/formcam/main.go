// formcam serves the form-capture API: camera sessions with blur scoring.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-formcam/internal/config"
	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/camera/webcam"
	"github.com/teslashibe/go-formcam/pkg/session"
	"github.com/teslashibe/go-formcam/pkg/upload"
	"github.com/teslashibe/go-formcam/pkg/web"
)

func main() {
	cfg, preset := parseFlags()
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		fatal("configuration error", err)
	}

	cameras := camera.NewManager()
	if preset != "" {
		c := camera.GetPreset(preset)
		if c == nil {
			fatal("configuration error", errors.New("unknown camera preset: "+preset))
		}
		if err := cameras.Set(*c); err != nil {
			fatal("configuration error", err)
		}
	}

	var device camera.Device
	if cfg.Mock {
		log.Info("using mock camera")
		device = camera.NewMock()
	} else {
		device = webcam.New(cfg.Device)
	}

	registry := session.NewRegistry(session.Options{
		Device:      device,
		Constraints: cameras.Constraints,
		Policy:      cfg.Quality,
		Saver: upload.SessionSaver{
			Uploader: upload.LogUploader{},
		},
	}, cfg.Exclusive)

	server := web.NewServer(web.Config{
		Port:        cfg.Port,
		SettleDelay: cfg.SettleDelay,
		Quality:     cfg.Quality,
	}, registry, cameras)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	log.Info("formcam started",
		"port", cfg.Port,
		"mock", cfg.Mock,
		"device", cfg.Device,
		"threshold", cfg.Quality.Threshold,
		"divisor", cfg.Quality.Divisor)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		if err := server.Shutdown(); err != nil {
			log.Warn("shutdown", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("shutdown timed out")
	}
}

// parseFlags loads env overrides and then applies flags on top.
func parseFlags() (config.Service, string) {
	cfg := config.DefaultService()
	if err := cfg.LoadEnv(); err != nil {
		log.Init("info")
		fatal("configuration error", err)
	}

	port := flag.String("port", cfg.Port, "HTTP listen port")
	device := flag.Int("device", cfg.Device, "Camera index for the webcam backend")
	mock := flag.Bool("mock", cfg.Mock, "Serve synthetic frames instead of opening a camera")
	threshold := flag.Float64("threshold", cfg.Quality.Threshold, "Acceptance threshold (0-100)")
	divisor := flag.Float64("divisor", cfg.Quality.Divisor, "Score normalization divisor")
	settle := flag.Duration("settle", cfg.SettleDelay, "How long 'checking' stays on after a score")
	shared := flag.Bool("shared", !cfg.Exclusive, "Allow concurrent sessions on the same camera")
	preset := flag.String("preset", "", "Camera preset: default, vga, 720p, 1080p, front")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg.Port, cfg.Device, cfg.Mock = *port, *device, *mock
	cfg.Quality.Threshold, cfg.Quality.Divisor = *threshold, *divisor
	cfg.SettleDelay = *settle
	cfg.Exclusive = !*shared
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, *preset
}

func fatal(msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
