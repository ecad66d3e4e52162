package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/session"
	"github.com/teslashibe/go-formcam/pkg/upload"
)

func setupTestServer(t *testing.T, dev *camera.Mock, settle time.Duration) *Server {
	t.Helper()
	cams := camera.NewManager()
	require.NoError(t, cams.Set(camera.VGAConstraints()))

	reg := session.NewRegistry(session.Options{
		Device:      dev,
		Constraints: cams.Constraints,
		Saver:       upload.SessionSaver{Uploader: upload.LogUploader{}},
	}, true)

	srv := NewServer(Config{SettleDelay: settle}, reg, cams)
	go srv.sessionHub.Run()
	t.Cleanup(func() {
		reg.StopAll()
		srv.sessionHub.Stop()
	})
	return srv
}

func call(t *testing.T, app *fiber.App, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func callJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	resp := call(t, app, method, path, r, fiber.MIMEApplicationJSON)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), "body: %s", data)
	}
	return resp.StatusCode, out
}

func startSession(t *testing.T, app *fiber.App) (string, map[string]any) {
	t.Helper()
	code, body := callJSON(t, app, http.MethodPost, "/api/sessions", `{"form_id":"w9"}`)
	require.Equal(t, fiber.StatusCreated, code)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id, body
}

func waitForState(t *testing.T, app *fiber.App, id, state string) map[string]any {
	t.Helper()
	var body map[string]any
	require.Eventually(t, func() bool {
		_, body = callJSON(t, app, http.MethodGet, "/api/sessions/"+id, "")
		return body["state"] == state
	}, 5*time.Second, 10*time.Millisecond)
	return body
}

func pngOf(t *testing.T, b *frame.Buffer) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, b.Image()))
	return buf.Bytes()
}

func TestCaptureFlow(t *testing.T) {
	dev := camera.NewMock()
	srv := setupTestServer(t, dev, time.Hour)
	app := srv.App()

	id, body := startSession(t, app)
	assert.Equal(t, "streaming", body["state"])
	assert.Equal(t, "w9", body["form_id"])
	assert.Equal(t, true, body["has_stream"])
	assert.Equal(t, 60.0, body["threshold"])

	code, body := callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, []any{"captured", "scored"}, body["state"])
	assert.Equal(t, true, body["checking"])

	body = waitForState(t, app, id, "scored")
	assert.Equal(t, "acceptable", body["verdict"])
	assert.Greater(t, body["score"].(float64), 60.0)
	// Still inside the settle window.
	assert.Equal(t, true, body["checking"])

	resp := call(t, app, http.MethodGet, "/api/sessions/"+id+"/preview", nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = call(t, app, http.MethodPost, "/api/sessions/"+id+"/save", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "form-w9-")
	assert.NotEmpty(t, resp.Header.Get("X-Quality-Score"))
	assert.Equal(t, "acceptable", resp.Header.Get("X-Quality-Verdict"))
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	_, body = callJSON(t, app, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, "saved", body["state"])
	assert.Equal(t, false, body["has_frame"])

	code, body = callJSON(t, app, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "closed", body["state"])
	assert.Equal(t, 0, dev.Active())
}

func TestSaveReturnsUploadedBytes(t *testing.T) {
	cams := camera.NewManager()
	low := camera.VGAConstraints()
	low.JPEGQuality = 20
	require.NoError(t, cams.Set(low))

	var uploaded []byte
	reg := session.NewRegistry(session.Options{
		Device:      camera.NewMock(),
		Constraints: cams.Constraints,
		Saver: upload.SessionSaver{
			JPEGQuality: 95,
			Uploader: upload.UploaderFunc(func(_ context.Context, sub *upload.Submission) error {
				uploaded = sub.Data
				return nil
			}),
		},
	}, true)
	srv := NewServer(Config{}, reg, cams)
	go srv.sessionHub.Run()
	t.Cleanup(func() {
		reg.StopAll()
		srv.sessionHub.Stop()
	})
	app := srv.App()

	id, _ := startSession(t, app)
	code, _ := callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")
	require.Equal(t, fiber.StatusOK, code)
	waitForState(t, app, id, "scored")

	resp := call(t, app, http.MethodPost, "/api/sessions/"+id+"/save", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	require.NotEmpty(t, uploaded)
	assert.True(t, bytes.Equal(uploaded, data), "saved response differs from the uploaded submission")
}

func TestSettleDelayIsPresentationOnly(t *testing.T) {
	dev := camera.NewMock()
	dev.FrameFunc = func(camera.Constraints) (*frame.Buffer, error) {
		return frame.Uniform(1280, 720, 0, 0, 0)
	}
	srv := setupTestServer(t, dev, 0)
	app := srv.App()

	id, _ := startSession(t, app)
	callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")

	body := waitForState(t, app, id, "scored")
	assert.Equal(t, false, body["checking"])
	assert.Equal(t, 0.0, body["score"])
	assert.Equal(t, "blurred", body["verdict"])
}

func TestPermissionDeniedThenRetry(t *testing.T) {
	dev := camera.NewMock()
	dev.FailWith(camera.ReasonPermissionDenied)
	app := setupTestServer(t, dev, 0).App()

	id, body := startSession(t, app)
	assert.Equal(t, "stream_error", body["state"])
	assert.Equal(t, "permission denied", body["error"])
	assert.Equal(t, "permission_denied", body["reason"])

	dev.AcquireFunc = nil
	code, body := callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/retry", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "streaming", body["state"])
	assert.Nil(t, body["error"])
}

func TestNoFrameIsNotARequestFailure(t *testing.T) {
	dev := camera.NewMock()
	dev.FrameFunc = func(camera.Constraints) (*frame.Buffer, error) { return nil, camera.ErrNoFrame }
	app := setupTestServer(t, dev, 0).App()

	id, _ := startSession(t, app)
	code, body := callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "stream_error", body["state"])
	assert.Equal(t, "no frame available", body["error"])
}

func TestErrors(t *testing.T) {
	app := setupTestServer(t, camera.NewMock(), 0).App()

	code, body := callJSON(t, app, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Contains(t, body["error"], "not found")

	code, _ = callJSON(t, app, http.MethodPost, "/api/sessions/nope/capture", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	id, _ := startSession(t, app)

	code, body = callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/save", "")
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Contains(t, body["error"], "cannot save from streaming")
	state := body["state"].(map[string]any)
	assert.Equal(t, "streaming", state["state"])

	code, _ = callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/retry", "")
	assert.Equal(t, fiber.StatusConflict, code)

	code, _ = callJSON(t, app, http.MethodGet, "/api/sessions/"+id+"/preview", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = callJSON(t, app, http.MethodPost, "/api/sessions", `{"form_id":`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestExclusiveStartStopsPrevious(t *testing.T) {
	dev := camera.NewMock()
	app := setupTestServer(t, dev, 0).App()

	first, _ := startSession(t, app)
	second, body := startSession(t, app)
	assert.Equal(t, "streaming", body["state"])
	assert.NotEqual(t, first, second)

	code, _ := callJSON(t, app, http.MethodGet, "/api/sessions/"+first, "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, 1, dev.Active())

	resp := call(t, app, http.MethodGet, "/api/sessions", nil, "")
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0]["id"])
}

func TestQualityEndpoint(t *testing.T) {
	app := setupTestServer(t, camera.NewMock(), 0).App()

	sharp, err := frame.Checkerboard(320, 240, 8)
	require.NoError(t, err)
	flat, err := frame.Uniform(320, 240, 200, 200, 200)
	require.NoError(t, err)

	decode := func(resp *http.Response) QualityResponse {
		t.Helper()
		defer resp.Body.Close()
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var q QualityResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
		return q
	}

	t.Run("raw body", func(t *testing.T) {
		q := decode(call(t, app, http.MethodPost, "/api/quality", bytes.NewReader(pngOf(t, sharp)), "image/png"))
		assert.Greater(t, q.Score, 60.0)
		assert.True(t, q.Acceptable)
		assert.Equal(t, "acceptable", q.Verdict)
		assert.Equal(t, 320, q.Width)
	})

	t.Run("data url", func(t *testing.T) {
		u := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngOf(t, flat))
		q := decode(call(t, app, http.MethodPost, "/api/quality", strings.NewReader(u), "text/plain"))
		assert.Equal(t, 0.0, q.Score)
		assert.False(t, q.Acceptable)
		assert.Empty(t, q.Error)
	})

	t.Run("multipart", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("image", "form.png")
		require.NoError(t, err)
		part.Write(pngOf(t, sharp))
		require.NoError(t, w.Close())

		q := decode(call(t, app, http.MethodPost, "/api/quality", &body, w.FormDataContentType()))
		assert.Greater(t, q.Score, 60.0)
	})

	t.Run("undecodable scores zero", func(t *testing.T) {
		q := decode(call(t, app, http.MethodPost, "/api/quality", strings.NewReader("not an image"), "application/octet-stream"))
		assert.Equal(t, 0.0, q.Score)
		assert.Equal(t, "blurred", q.Verdict)
		assert.NotEmpty(t, q.Error)
	})

	t.Run("empty body", func(t *testing.T) {
		resp := call(t, app, http.MethodPost, "/api/quality", nil, "application/octet-stream")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestCameraAPI(t *testing.T) {
	srv := setupTestServer(t, camera.NewMock(), 0)
	app := srv.App()

	code, body := callJSON(t, app, http.MethodGet, "/api/camera", "")
	require.Equal(t, fiber.StatusOK, code)
	c := body["constraints"].(map[string]any)
	assert.Equal(t, 640.0, c["ideal_width"])
	assert.Contains(t, body["presets"], "1080p")

	code, body = callJSON(t, app, http.MethodPut, "/api/camera", `{"preset":"720p","jpeg_quality":75}`)
	require.Equal(t, fiber.StatusOK, code)
	c = body["constraints"].(map[string]any)
	assert.Equal(t, 1280.0, c["ideal_width"])
	assert.Equal(t, 75.0, c["jpeg_quality"])

	code, _ = callJSON(t, app, http.MethodPut, "/api/camera", `{"framerate":1000}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	// New constraints apply to the next acquisition.
	_, body = startSession(t, app)
	stream := body["stream"].(map[string]any)
	assert.Equal(t, 1280.0, stream["width"])
}

func TestSessionWebSocket(t *testing.T) {
	srv := setupTestServer(t, camera.NewMock(), 0)
	app := srv.App()

	go app.Listen(":18095")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	id, _ := startSession(t, app)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18095/ws/sessions/"+id, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() StateResponse {
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var st StateResponse
		require.NoError(t, ws.ReadJSON(&st))
		return st
	}

	first := read()
	assert.Equal(t, session.StateStreaming, first.State)
	assert.Equal(t, id, first.ID)

	time.Sleep(50 * time.Millisecond)
	callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")

	var states []session.State
	for {
		st := read()
		states = append(states, st.State)
		if st.State == session.StateScored {
			require.NotNil(t, st.Score)
			break
		}
	}
	assert.Contains(t, states, session.StateCaptured)

	callJSON(t, app, http.MethodDelete, "/api/sessions/"+id, "")
	for {
		st := read()
		if st.State == session.StateClosed {
			break
		}
	}

	resp, err := http.Get("http://localhost:18095/ws/sessions/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestPreviewWebSocket(t *testing.T) {
	srv := setupTestServer(t, camera.NewMock(), 0)
	app := srv.App()

	go app.Listen(":18096")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	id, _ := startSession(t, app)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18096/ws/sessions/"+id+"/preview", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		return srv.sessionHub.TopicCount(previewTopic(id)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, _ := callJSON(t, app, http.MethodPost, "/api/sessions/"+id+"/capture", "")
	require.Equal(t, fiber.StatusOK, code)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	// Late subscribers get the held frame straight away.
	late, _, err := websocket.DefaultDialer.Dial("ws://localhost:18096/ws/sessions/"+id+"/preview", nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err = late.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}
