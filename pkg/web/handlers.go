package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/hub"
	"github.com/teslashibe/go-formcam/pkg/session"
	"github.com/teslashibe/go-formcam/pkg/upload"
)

// handleStatus returns service-level counters
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions":   s.registry.Len(),
		"ws_clients": s.sessionHub.ClientCount(),
		"quality":    s.policy,
		"settle_ms":  s.settle.Milliseconds(),
	})
}

// StartRequest is the request body for starting a session
type StartRequest struct {
	FormID string `json:"form_id"`
}

// handleStartSession creates a session and acquires the camera.
// Acquisition failures are reported through the session state.
func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	sess, err := s.registry.StartCapture(c.UserContext(), req.FormID)
	if sess == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return s.respond(c.Status(fiber.StatusCreated), sess, err)
}

// handleListSessions returns every live session
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	snaps := s.registry.List()
	out := make([]StateResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, s.stateOf(snap))
	}
	return c.JSON(out)
}

// handleGetSession returns the session state
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(s.stateOf(sess.Snapshot()))
}

// handleStopSession stops the session and releases its camera
func (s *Server) handleStopSession(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := s.registry.StopCapture(sess.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		return s.respond(c, sess, err)
	}
	return c.JSON(s.stateOf(sess.Snapshot()))
}

// handleCapture freezes the current frame
func (s *Server) handleCapture(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return s.respond(c, sess, sess.Capture(c.UserContext()))
}

// handleRetake discards the capture and restarts the stream
func (s *Server) handleRetake(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return s.respond(c, sess, sess.Retake(c.UserContext()))
}

// handleRetry re-attempts acquisition after a stream error
func (s *Server) handleRetry(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return s.respond(c, sess, sess.Retry(c.UserContext()))
}

// handleSave hands the capture to the saver and returns the JPEG
func (s *Server) handleSave(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	img, err := sess.Save(c.UserContext())
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return s.respond(c, sess, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.stateOf(sess.Snapshot()),
		})
	}

	// Return exactly what was uploaded; encode only when the saver did not.
	data := img.Encoded
	if len(data) == 0 {
		data, err = frame.JPEG(img.Frame, s.cameras.Constraints().JPEGQuality)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	name := img.Reference
	if name == "" {
		name = upload.Filename(img.FormID, img.CapturedAt)
	}
	c.Set(fiber.HeaderContentType, upload.ContentTypeJPEG)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, name))
	c.Set("X-Quality-Score", strconv.FormatFloat(float64(img.Score), 'f', 2, 64))
	c.Set("X-Quality-Verdict", string(img.Verdict))
	return c.Send(data)
}

// handlePreview returns the frozen frame as JPEG
func (s *Server) handlePreview(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	buf, ok := sess.Frame()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no captured frame",
			"state": s.stateOf(sess.Snapshot()),
		})
	}
	data, err := frame.JPEG(buf, s.cameras.Constraints().JPEGQuality)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, upload.ContentTypeJPEG)
	return c.Send(data)
}

// QualityResponse is the result of scoring an uploaded image
type QualityResponse struct {
	Score         float64 `json:"score"`
	Verdict       string  `json:"verdict"`
	Acceptable    bool    `json:"acceptable"`
	MeanMagnitude float64 `json:"mean_magnitude"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	ElapsedMS     float64 `json:"elapsed_ms"`
	Error         string  `json:"error,omitempty"`
}

// handleQuality scores an image sent as a raw body, a data URL or a
// multipart "image" field. Undecodable images score 0.
func (s *Server) handleQuality(c *fiber.Ctx) error {
	data, err := imagePayload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	res := s.assessor.AssessEncoded(c.UserContext(), data)
	resp := QualityResponse{
		Score:         float64(res.Score),
		Verdict:       string(s.policy.Verdict(res.Score)),
		Acceptable:    res.Score.Acceptable(s.policy.Threshold),
		MeanMagnitude: res.MeanMagnitude,
		Width:         res.Width,
		Height:        res.Height,
		ElapsedMS:     float64(res.Elapsed.Microseconds()) / 1000,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return c.JSON(resp)
}

// handleGetCamera returns the current stream constraints
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"constraints": s.cameras.Constraints(),
		"presets":     camera.PresetNames(),
	})
}

// handleUpdateCamera updates constraints; they apply at the next acquisition
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var params map[string]any
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.cameras.Update(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"constraints": s.cameras.Constraints(),
	})
}

// handleSessionWS pushes state snapshots for one session
func (s *Server) handleSessionWS(c *websocket.Conn) {
	id := c.Params("id")
	sess, err := s.registry.Get(id)
	if err != nil {
		c.WriteJSON(fiber.Map{"error": err.Error()})
		c.Close()
		return
	}

	data, err := json.Marshal(s.stateOf(sess.Snapshot()))
	if err != nil {
		c.Close()
		return
	}
	client, err := hub.NewClient(s.sessionHub, c, id, hub.NewJSONMessage(data))
	if err != nil {
		c.Close()
		return
	}
	client.Run() // Blocks until connection closes
}

// handlePreviewWS streams each frozen frame of one session as a binary
// JPEG message. A frame already held is sent on connect.
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	id := c.Params("id")
	sess, err := s.registry.Get(id)
	if err != nil {
		c.WriteJSON(fiber.Map{"error": err.Error()})
		c.Close()
		return
	}

	var initial []hub.Message
	if buf, ok := sess.Frame(); ok {
		if data, err := frame.JPEG(buf, s.cameras.Constraints().JPEGQuality); err == nil {
			initial = append(initial, hub.NewBinaryMessage(data))
		}
	}
	client, err := hub.NewClient(s.sessionHub, c, previewTopic(id), initial...)
	if err != nil {
		c.Close()
		return
	}
	client.Run()
}

// lookup resolves :id. Unknown handles become a 404 via errorHandler.
func (s *Server) lookup(c *fiber.Ctx) (*session.Session, error) {
	sess, err := s.registry.Get(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return sess, nil
}

// errorHandler renders fiber errors as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// respond maps a session command result to HTTP. Stream failures are not
// request failures: the caller reads them from the returned state.
func (s *Server) respond(c *fiber.Ctx, sess *session.Session, err error) error {
	state := s.stateOf(sess.Snapshot())

	var ae *camera.AcquireError
	switch {
	case err == nil, errors.As(err, &ae), errors.Is(err, camera.ErrNoFrame):
		return c.JSON(state)
	case errors.Is(err, session.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"state": state,
		})
	default:
		s.logger.Error("session command failed", "session", sess.ID(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"state": state,
		})
	}
}

// imagePayload extracts image bytes from the request.
func imagePayload(c *fiber.Ctx) ([]byte, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile(upload.FieldName)
		if err != nil {
			return nil, fmt.Errorf("missing %q form field", upload.FieldName)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	body := c.Body()
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if bytes.HasPrefix(body, []byte("data:")) {
		return decodeDataURL(string(body))
	}
	return append([]byte(nil), body...), nil
}

// decodeDataURL decodes a base64 "data:image/...;base64,..." URL.
func decodeDataURL(u string) ([]byte, error) {
	meta, payload, ok := strings.Cut(u, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("data URL: %w", err)
	}
	return data, nil
}
