package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/session"
)

// Uploader hands a submission to the upload service.
type Uploader interface {
	Upload(ctx context.Context, s *Submission) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, s *Submission) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, s *Submission) error {
	return f(ctx, s)
}

// LogUploader builds the multipart body and logs that it is ready.
type LogUploader struct {
	Logger *slog.Logger
}

// Upload implements Uploader.
func (u LogUploader) Upload(ctx context.Context, s *Submission) error {
	contentType, body, err := s.Multipart()
	if err != nil {
		return err
	}
	logger := u.Logger
	if logger == nil {
		logger = log.Component("upload")
	}
	logger.InfoContext(ctx, "submission ready for upload",
		"filename", s.Filename,
		"form", s.FormID,
		"score", float64(s.Score),
		"bytes", len(body),
		"content_type", contentType)
	return nil
}

// SessionSaver adapts an Uploader to session.Saver.
type SessionSaver struct {
	Uploader    Uploader
	JPEGQuality int
	Clock       func() time.Time
}

// Save encodes the captured frame, uploads it and records the filename as
// the image reference and the uploaded bytes as the encoded image.
func (s SessionSaver) Save(ctx context.Context, img *session.CapturedImage) error {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	q := s.JPEGQuality
	if q <= 0 {
		q = frame.DefaultJPEGQuality
	}

	sub, err := NewSubmission(img.FormID, img.Frame, img.Score, q, now())
	if err != nil {
		return err
	}
	if err := s.Uploader.Upload(ctx, sub); err != nil {
		return err
	}
	img.Reference = sub.Filename
	img.Encoded = sub.Data
	return nil
}
