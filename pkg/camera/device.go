package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

// ErrNoFrame is returned by Stream.Frame when the stream has not produced a
// displayable frame yet.
var ErrNoFrame = errors.New("camera: no frame available")

// ErrReleased is returned by Stream.Frame after Release.
var ErrReleased = errors.New("camera: stream released")

// Device acquires live streams.
type Device interface {
	// Acquire opens a stream honoring c where the hardware allows. Failures
	// are reported as *AcquireError. No retries are attempted.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video stream owned by one caller.
type Stream interface {
	// Frame freezes the current frame at the stream's native delivered
	// resolution as an RGBA buffer. It does not stop the stream.
	Frame() (*frame.Buffer, error)

	// Info describes what the device actually negotiated.
	Info() StreamInfo

	// Release stops the stream. Safe to call multiple times.
	Release() error
}

// StreamInfo describes a negotiated stream.
type StreamInfo struct {
	DeviceID string `json:"device_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Facing   string `json:"facing"`
}

// AcquireReason classifies acquisition failures.
type AcquireReason string

const (
	ReasonPermissionDenied AcquireReason = "permission_denied"
	ReasonNoDevice         AcquireReason = "no_device"
	ReasonDeviceBusy       AcquireReason = "device_busy"
	ReasonUnknown          AcquireReason = "unknown"
)

// AcquireError is the single error type for stream acquisition.
type AcquireError struct {
	// Reason classifies the failure.
	Reason AcquireReason

	// Cause is the human-readable message shown to the operator.
	Cause string

	// Err is the underlying driver error, if any.
	Err error
}

// Error implements the error interface.
func (e *AcquireError) Error() string {
	if e.Cause != "" {
		return e.Cause
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("camera: acquire failed (%s)", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AcquireError) Unwrap() error {
	return e.Err
}

// NewAcquireError builds an AcquireError with a default message per reason.
func NewAcquireError(reason AcquireReason, err error) *AcquireError {
	cause := "Failed to access camera. Please check permissions."
	switch reason {
	case ReasonPermissionDenied:
		cause = "permission denied"
	case ReasonNoDevice:
		cause = "no compatible camera found"
	case ReasonDeviceBusy:
		cause = "camera is already in use"
	}
	return &AcquireError{Reason: reason, Cause: cause, Err: err}
}

// AsAcquireError normalizes any acquisition failure into *AcquireError so
// callers see one error type regardless of backend.
func AsAcquireError(err error) *AcquireError {
	if err == nil {
		return nil
	}
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae
	}
	return &AcquireError{Reason: ReasonUnknown, Cause: err.Error(), Err: err}
}

// Guard wraps a stream so Release runs the underlying release exactly once.
// Later calls return the first result.
func Guard(s Stream) Stream {
	if s == nil {
		return nil
	}
	if g, ok := s.(*guarded); ok {
		return g
	}
	return &guarded{Stream: s}
}

type guarded struct {
	Stream
	once sync.Once
	err  error
}

func (g *guarded) Release() error {
	g.once.Do(func() {
		g.err = g.Stream.Release()
	})
	return g.err
}
