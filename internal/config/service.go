// Package config provides configuration helpers for formcam commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/teslashibe/go-formcam/pkg/quality"
)

// Default service configuration.
const (
	DefaultPort        = "8080"
	DefaultDevice      = 0
	DefaultSettleDelay = 2 * time.Second
	DefaultLogLevel    = "info"
)

// Service holds all configuration for the capture service.
// Flag parsing is done in cmd/formcam/main.go; this struct is data only.
type Service struct {
	// Port is the HTTP listen port.
	Port string

	// Device is the camera index opened by the webcam backend.
	Device int

	// Mock serves synthetic frames instead of opening a camera.
	Mock bool

	// Quality holds the scorer calibration and acceptance threshold.
	Quality quality.Config

	// SettleDelay keeps the "checking" indicator visible after a score
	// arrives. Presentation only.
	SettleDelay time.Duration

	// Exclusive stops other sessions when a new one starts.
	Exclusive bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// DefaultService returns sensible defaults for the capture service.
func DefaultService() Service {
	return Service{
		Port:        DefaultPort,
		Device:      DefaultDevice,
		Quality:     quality.DefaultConfig(),
		SettleDelay: DefaultSettleDelay,
		Exclusive:   true,
		LogLevel:    DefaultLogLevel,
	}
}

// LoadEnv applies environment overrides. Malformed numeric values are
// reported rather than silently ignored.
func (s *Service) LoadEnv() error {
	if v := os.Getenv("FORMCAM_PORT"); v != "" {
		s.Port = v
	}
	if v := os.Getenv("FORMCAM_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("FORMCAM_DEVICE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "Device", Message: fmt.Sprintf("FORMCAM_DEVICE must be an integer, got %q", v)}
		}
		s.Device = n
	}
	if v := os.Getenv("FORMCAM_MOCK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "Mock", Message: fmt.Sprintf("FORMCAM_MOCK must be a boolean, got %q", v)}
		}
		s.Mock = b
	}
	if v := os.Getenv("FORMCAM_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "Threshold", Message: fmt.Sprintf("FORMCAM_THRESHOLD must be a number, got %q", v)}
		}
		s.Quality.Threshold = f
	}
	if v := os.Getenv("FORMCAM_DIVISOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "Divisor", Message: fmt.Sprintf("FORMCAM_DIVISOR must be a number, got %q", v)}
		}
		s.Quality.Divisor = f
	}
	if v := os.Getenv("FORMCAM_SETTLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "SettleDelay", Message: fmt.Sprintf("FORMCAM_SETTLE must be a duration, got %q", v)}
		}
		s.SettleDelay = d
	}
	return nil
}

// Validate checks that the configuration is usable.
func (s *Service) Validate() error {
	if s.Port == "" {
		return &ConfigError{Field: "Port", Message: "port is required"}
	}
	if s.Device < 0 {
		return &ConfigError{Field: "Device", Message: "device index must be >= 0"}
	}
	if s.SettleDelay < 0 {
		return &ConfigError{Field: "SettleDelay", Message: "settle delay must be >= 0"}
	}
	if err := s.Quality.Validate(); err != nil {
		return &ConfigError{Field: "Quality", Message: err.Error()}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
