// Package webcam implements camera.Device on top of OpenCV video capture.
package webcam

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"gocv.io/x/gocv"
)

// Device opens V4L/AVFoundation capture devices by index.
type Device struct {
	// Index is used when Constraints.DeviceID is empty.
	Index int

	// MaxPixels bounds frozen frames. Zero selects frame.MaxPixels.
	MaxPixels int

	mu    sync.Mutex
	inUse map[int]bool
}

// New creates a device for the given default index.
func New(index int) *Device {
	return &Device{Index: index, inUse: make(map[int]bool)}
}

// Acquire opens the capture device and applies the resolution and
// framerate hints. Facing is ignored; the index picks the camera.
func (d *Device) Acquire(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, camera.NewAcquireError(camera.ReasonUnknown, err)
	}

	index := d.Index
	if c.DeviceID != "" {
		n, err := strconv.Atoi(c.DeviceID)
		if err != nil {
			return nil, camera.NewAcquireError(camera.ReasonNoDevice, fmt.Errorf("device id %q: %w", c.DeviceID, err))
		}
		index = n
	}

	d.mu.Lock()
	if d.inUse[index] {
		d.mu.Unlock()
		return nil, camera.NewAcquireError(camera.ReasonDeviceBusy, nil)
	}
	d.inUse[index] = true
	d.mu.Unlock()

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil || !vc.IsOpened() {
		if vc != nil {
			vc.Close()
		}
		d.free(index)
		return nil, camera.NewAcquireError(camera.ReasonNoDevice, err)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	vc.Set(gocv.VideoCaptureFPS, float64(c.Framerate))

	w, h, err := frame.DimensionsFromFloat(vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight), d.MaxPixels)
	if err != nil {
		// Some backends report 0 until the first frame; Frame reads the real size.
		w, h = c.IdealWidth, c.IdealHeight
	}

	log.Component("webcam").Info("stream acquired", "index", index, "width", w, "height", h)

	s := &stream{
		device: d,
		index:  index,
		vc:     vc,
		info: camera.StreamInfo{
			DeviceID: strconv.Itoa(index),
			Width:    w,
			Height:   h,
			Facing:   c.Facing,
		},
	}
	return camera.Guard(s), nil
}

func (d *Device) free(index int) {
	d.mu.Lock()
	delete(d.inUse, index)
	d.mu.Unlock()
}

type stream struct {
	device *Device
	index  int
	vc     *gocv.VideoCapture
	info   camera.StreamInfo

	mu     sync.Mutex
	closed bool
}

// Frame reads the current frame and converts BGR to RGBA.
func (s *stream) Frame() (*frame.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, camera.ErrReleased
	}

	img := gocv.NewMat()
	defer img.Close()
	if ok := s.vc.Read(&img); !ok || img.Empty() {
		return nil, camera.ErrNoFrame
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(img, &rgba, gocv.ColorBGRToRGBA)

	// ToBytes copies out of the Mat, so the buffer outlives rgba.Close.
	buf, err := frame.NewWithLimit(rgba.Cols(), rgba.Rows(), frame.RGBA, rgba.ToBytes(), s.device.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("webcam: freeze frame: %w", err)
	}
	return buf, nil
}

func (s *stream) Info() camera.StreamInfo {
	return s.info
}

func (s *stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.vc.Close()
	s.device.free(s.index)
	log.Component("webcam").Info("stream released", "index", s.index)
	return err
}
