// Package upload prepares captured images for the external upload service.
//
// Nothing here talks to the network. A Submission is the JPEG payload and
// multipart body that the upload service expects; an Uploader receives it.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"time"

	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/quality"
)

// FieldName is the multipart form field carrying the image.
const FieldName = "image"

// ContentTypeJPEG is the content type of every submission.
const ContentTypeJPEG = "image/jpeg"

// Submission is an encoded capture ready for upload.
type Submission struct {
	FormID      string
	Filename    string
	ContentType string
	Data        []byte
	Score       quality.Score
	CreatedAt   time.Time
}

// Filename returns "form-<formID>-<unix millis>.jpg", using "image" when
// formID is empty.
func Filename(formID string, t time.Time) string {
	if formID == "" {
		formID = "image"
	}
	return fmt.Sprintf("form-%s-%d.jpg", formID, t.UnixMilli())
}

// NewSubmission encodes buf as JPEG at the given quality.
func NewSubmission(formID string, buf *frame.Buffer, score quality.Score, jpegQuality int, now time.Time) (*Submission, error) {
	if buf == nil {
		return nil, errors.New("upload: no frame")
	}
	data, err := frame.JPEG(buf, jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("upload: encode: %w", err)
	}
	return &Submission{
		FormID:      formID,
		Filename:    Filename(formID, now),
		ContentType: ContentTypeJPEG,
		Data:        data,
		Score:       score,
		CreatedAt:   now,
	}, nil
}

// Multipart builds a multipart/form-data body with the image in FieldName.
// It returns the body's content type including the boundary.
func (s *Submission) Multipart() (string, []byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, s.Filename))
	h.Set("Content-Type", s.ContentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return "", nil, fmt.Errorf("upload: create part: %w", err)
	}
	if _, err := part.Write(s.Data); err != nil {
		return "", nil, fmt.Errorf("upload: write part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("upload: close multipart: %w", err)
	}
	return w.FormDataContentType(), body.Bytes(), nil
}
