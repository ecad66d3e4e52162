// Package web exposes capture sessions over HTTP and websockets.
package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/hub"
	"github.com/teslashibe/go-formcam/pkg/quality"
	"github.com/teslashibe/go-formcam/pkg/session"
)

// Config holds server settings.
type Config struct {
	Port string

	// SettleDelay keeps "checking" true for this long after a score lands.
	// Presentation pacing only; the stored score is unaffected.
	SettleDelay time.Duration

	// Quality supplies the threshold for verdicts and the scorer for
	// POST /api/quality.
	Quality quality.Config
}

// StateResponse is the getState payload: the session snapshot plus
// presentation hints.
type StateResponse struct {
	session.Snapshot
	Checking  bool    `json:"checking"`
	Threshold float64 `json:"threshold"`
}

// Server is the capture API server
type Server struct {
	app  *fiber.App
	port string

	registry *session.Registry
	cameras  *camera.Manager
	assessor *quality.Assessor
	policy   quality.Config
	settle   time.Duration

	// Hub for session state push (thread-safe!)
	sessionHub *hub.Hub

	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates the server and hooks it into the registry so every new
// session's changes are pushed to websocket subscribers.
func NewServer(cfg Config, registry *session.Registry, cameras *camera.Manager) *Server {
	if cfg.Quality == (quality.Config{}) {
		cfg.Quality = quality.DefaultConfig()
	}
	s := &Server{
		port:       cfg.Port,
		registry:   registry,
		cameras:    cameras,
		assessor:   quality.NewAssessor(cfg.Quality),
		policy:     cfg.Quality,
		settle:     cfg.SettleDelay,
		sessionHub: hub.New("sessions"),
		logger:     log.Component("web"),
		now:        time.Now,
	}
	registry.OnStart = s.watch

	app := fiber.New(fiber.Config{
		AppName:               "formcam",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ErrorHandler:          errorHandler,
	})

	// CORS for the capture UI
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/quality", s.handleQuality)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)

	sessions := api.Group("/sessions")
	sessions.Get("/", s.handleListSessions)
	sessions.Post("/", s.handleStartSession)
	sessions.Get("/:id", s.handleGetSession)
	sessions.Delete("/:id", s.handleStopSession)
	sessions.Post("/:id/capture", s.handleCapture)
	sessions.Post("/:id/retake", s.handleRetake)
	sessions.Post("/:id/retry", s.handleRetry)
	sessions.Post("/:id/save", s.handleSave)
	sessions.Get("/:id/preview", s.handlePreview)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/sessions/:id", websocket.New(s.handleSessionWS))
	app.Get("/ws/sessions/:id/preview", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("capture API listening", "url", "http://localhost:"+s.port)
	go s.sessionHub.Run()
	return s.app.Listen(":" + s.port)
}

// Shutdown stops all sessions, releases cameras and stops the server.
func (s *Server) Shutdown() error {
	s.registry.StopAll()
	s.sessionHub.Stop()
	return s.app.Shutdown()
}

// stateOf applies the settle policy to a snapshot.
func (s *Server) stateOf(snap session.Snapshot) StateResponse {
	checking := snap.State == session.StateCaptured
	if snap.State == session.StateScored && s.settle > 0 {
		checking = s.now().Before(snap.ScoredAt.Add(s.settle))
	}
	return StateResponse{
		Snapshot:  snap,
		Checking:  checking,
		Threshold: s.policy.Threshold,
	}
}

// watch forwards a session's snapshots to its websocket topic until the
// session stops. A follow-up is pushed when the settle delay runs out.
func (s *Server) watch(sess *session.Session) {
	updates, cancel := sess.Subscribe()
	go func() {
		defer cancel()
		for snap := range updates {
			s.publish(snap)
			if snap.State == session.StateCaptured {
				s.publishPreview(sess)
			}
			if snap.State == session.StateScored && s.settle > 0 {
				time.AfterFunc(s.settle, func() { s.publish(sess.Snapshot()) })
			}
		}
	}()
}

func (s *Server) publish(snap session.Snapshot) {
	if err := s.sessionHub.BroadcastJSON(snap.ID, s.stateOf(snap)); err != nil {
		s.logger.Warn("state broadcast failed", "session", snap.ID, "error", err)
	}
}

// previewTopic carries JPEG frames for a session's preview socket.
func previewTopic(id string) string {
	return id + "/preview"
}

// publishPreview pushes the frozen frame to preview subscribers, if any.
func (s *Server) publishPreview(sess *session.Session) {
	topic := previewTopic(sess.ID())
	if s.sessionHub.TopicCount(topic) == 0 {
		return
	}
	buf, ok := sess.Frame()
	if !ok {
		return
	}
	data, err := frame.JPEG(buf, s.cameras.Constraints().JPEGQuality)
	if err != nil {
		s.logger.Warn("preview encode failed", "session", sess.ID(), "error", err)
		return
	}
	s.sessionHub.BroadcastBinary(topic, data)
}
