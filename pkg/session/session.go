// Package session implements the capture lifecycle: acquire a live stream,
// freeze a frame, score it off the command path and hand it to a saver.
//
// Operator commands (Start, Capture, Retake, Retry, Save, Stop) are
// serialized per session. Scoring runs in its own goroutine and reports back
// tagged with the generation it was launched for; results for a generation
// the session has moved past are dropped. The live stream and the frozen
// frame are never held at the same time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-formcam/internal/log"
	"github.com/teslashibe/go-formcam/pkg/camera"
	"github.com/teslashibe/go-formcam/pkg/frame"
	"github.com/teslashibe/go-formcam/pkg/quality"
)

// Scorer rates a frozen frame. Failures must resolve to a zero score.
type Scorer interface {
	Assess(ctx context.Context, buf *frame.Buffer) quality.Result
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, buf *frame.Buffer) quality.Result

// Assess calls f.
func (f ScorerFunc) Assess(ctx context.Context, buf *frame.Buffer) quality.Result {
	return f(ctx, buf)
}

// Saver receives the captured image on Save. It may set Reference.
type Saver interface {
	Save(ctx context.Context, img *CapturedImage) error
}

// CapturedImage is the frozen frame and its score as handed to a Saver.
type CapturedImage struct {
	SessionID  string
	FormID     string
	Frame      *frame.Buffer
	Score      quality.Score
	Verdict    quality.Verdict
	CapturedAt time.Time

	// Reference identifies the stored image, e.g. an upload file name.
	Reference string

	// Encoded holds the bytes the Saver stored, if it encoded the frame.
	Encoded []byte
}

// Options configures a Session.
type Options struct {
	// ID is the session handle. Empty generates a UUID.
	ID string

	// FormID tags the capture with the form being photographed.
	FormID string

	// Device acquires streams. Required.
	Device camera.Device

	// Constraints is read at every acquisition. Nil uses the defaults.
	Constraints func() camera.Constraints

	// Policy supplies the acceptance threshold. Zero uses the defaults.
	Policy quality.Config

	// Scorer rates frames. Nil uses a quality.Assessor built from Policy.
	Scorer Scorer

	// Saver receives images on Save. Nil returns the image to the caller only.
	Saver Saver

	Logger *slog.Logger
	Clock  func() time.Time
}

// Snapshot is a consistent read of session state.
type Snapshot struct {
	ID         string               `json:"id"`
	FormID     string               `json:"form_id,omitempty"`
	State      State                `json:"state"`
	Score      *quality.Score       `json:"score,omitempty"`
	Verdict    quality.Verdict      `json:"verdict,omitempty"`
	ScoreError string               `json:"score_error,omitempty"`
	Error      string               `json:"error,omitempty"`
	Reason     camera.AcquireReason `json:"reason,omitempty"`
	SaveError  string               `json:"save_error,omitempty"`
	Reference  string               `json:"reference,omitempty"`

	Generation   uint64 `json:"generation"`
	StaleResults int    `json:"stale_results"`

	Acquiring   bool               `json:"acquiring"`
	HasStream   bool               `json:"has_stream"`
	HasFrame    bool               `json:"has_frame"`
	Stream      *camera.StreamInfo `json:"stream,omitempty"`
	FrameWidth  int                `json:"frame_width,omitempty"`
	FrameHeight int                `json:"frame_height,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
	ScoredAt   time.Time `json:"scored_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Session is one capture lifecycle bound to a device.
type Session struct {
	id          string
	formID      string
	device      camera.Device
	constraints func() camera.Constraints
	policy      quality.Config
	scorer      Scorer
	saver       Saver
	logger      *slog.Logger
	now         func() time.Time

	// opMu serializes operator commands. mu guards the fields below and is
	// never held across device acquisition, so Snapshot stays responsive.
	opMu sync.Mutex
	mu   sync.RWMutex

	state         State
	stream        camera.Stream
	streamInfo    *camera.StreamInfo
	buf           *frame.Buffer
	result        *quality.Result
	lastErr       string
	reason        camera.AcquireReason
	saveErr       string
	reference     string
	generation    uint64
	stale         int
	acquiring     bool
	acquireCancel context.CancelFunc
	cancelScore   context.CancelFunc

	createdAt  time.Time
	capturedAt time.Time
	scoredAt   time.Time
	updatedAt  time.Time

	subs    map[int]chan Snapshot
	nextSub int

	scoring sync.WaitGroup
}

// New creates an idle session.
func New(opts Options) (*Session, error) {
	if opts.Device == nil {
		return nil, errors.New("session: device is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Constraints == nil {
		opts.Constraints = camera.DefaultConstraints
	}
	if opts.Policy == (quality.Config{}) {
		opts.Policy = quality.DefaultConfig()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("session: policy: %w", err)
	}
	if opts.Scorer == nil {
		opts.Scorer = quality.NewAssessor(opts.Policy)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Component("session")
	}

	now := opts.Clock()
	return &Session{
		id:          opts.ID,
		formID:      opts.FormID,
		device:      opts.Device,
		constraints: opts.Constraints,
		policy:      opts.Policy,
		scorer:      opts.Scorer,
		saver:       opts.Saver,
		logger:      opts.Logger.With("session", opts.ID),
		now:         opts.Clock,
		state:       StateIdle,
		createdAt:   now,
		updatedAt:   now,
		subs:        make(map[int]chan Snapshot),
	}, nil
}

// ID returns the session handle.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Frame returns the frozen frame while one is held. Callers must not
// modify it.
func (s *Session) Frame() (*frame.Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf, s.buf != nil
}

// Start acquires the stream. Acquisition failures leave the session in
// StreamError and are returned as *camera.AcquireError.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.check(OpStart); err != nil {
		return err
	}
	return s.acquire(ctx)
}

// Retry clears a stream error and re-attempts acquisition. Never automatic.
func (s *Session) Retry(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.check(OpRetry); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastErr = ""
	s.reason = ""
	s.state = StateIdle
	s.touchLocked()
	s.mu.Unlock()

	return s.acquire(ctx)
}

// Capture freezes the current frame, releases the stream and starts scoring
// in the background. If no frame is available the stream is released and
// the session moves to StreamError.
func (s *Session) Capture(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.check(OpCapture); err != nil {
		return err
	}

	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()

	buf, frameErr := stream.Frame()
	if frameErr == nil && buf == nil {
		frameErr = camera.ErrNoFrame
	}

	// The stream stops before scoring begins, whatever Frame returned.
	if err := stream.Release(); err != nil {
		s.logger.Warn("stream release failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stream = nil
	s.streamInfo = nil

	if frameErr != nil {
		s.state = StateStreamError
		s.lastErr = frameErr.Error()
		if errors.Is(frameErr, camera.ErrNoFrame) {
			s.lastErr = "no frame available"
		}
		s.reason = ""
		s.touchLocked()
		s.logger.Warn("capture failed", "error", frameErr)
		return fmt.Errorf("session: capture: %w", frameErr)
	}

	s.generation++
	gen := s.generation
	scoreCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelScore = cancel
	s.buf = buf
	s.result = nil
	s.capturedAt = s.now()
	s.state = StateCaptured
	s.touchLocked()

	s.logger.Info("frame captured", "generation", gen, "width", buf.Width, "height", buf.Height)

	s.scoring.Add(1)
	go s.score(scoreCtx, gen, buf)
	return nil
}

// Retake discards the frozen frame and score and re-acquires the stream.
// Any outstanding score for the discarded frame is dropped on arrival.
func (s *Session) Retake(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.check(OpRetake); err != nil {
		return err
	}

	s.mu.Lock()
	s.discardLocked()
	s.lastErr = ""
	s.reason = ""
	s.saveErr = ""
	s.state = StateIdle
	s.touchLocked()
	s.mu.Unlock()

	return s.acquire(ctx)
}

// Save hands the captured image to the Saver and ends the session. On Saver
// error the session stays Scored with the error recorded, so Save can be
// retried.
func (s *Session) Save(ctx context.Context) (*CapturedImage, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.check(OpSave); err != nil {
		return nil, err
	}

	s.mu.RLock()
	img := &CapturedImage{
		SessionID:  s.id,
		FormID:     s.formID,
		Frame:      s.buf,
		Score:      s.result.Score,
		Verdict:    s.policy.Verdict(s.result.Score),
		CapturedAt: s.capturedAt,
	}
	s.mu.RUnlock()

	if s.saver != nil {
		if err := s.saver.Save(ctx, img); err != nil {
			s.mu.Lock()
			s.saveErr = err.Error()
			s.touchLocked()
			s.mu.Unlock()
			s.logger.Error("save failed", "error", err)
			return nil, fmt.Errorf("session: save: %w", err)
		}
	}

	s.mu.Lock()
	s.generation++
	s.buf = nil
	s.saveErr = ""
	s.reference = img.Reference
	s.state = StateSaved
	s.touchLocked()
	s.mu.Unlock()

	s.logger.Info("image saved", "score", float64(img.Score), "reference", img.Reference)
	return img, nil
}

// Stop ends the session from any state but Closed. An in-flight acquisition
// is cancelled, the stream is released and pending scores are dropped.
// Subscriber channels are closed.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.acquireCancel != nil {
		s.acquireCancel()
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return &TransitionError{Op: OpStop, From: StateClosed}
	}
	s.discardLocked()
	stream := s.stream
	s.stream = nil
	s.streamInfo = nil
	s.state = StateClosed
	s.touchLocked()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Release(); err != nil {
			s.logger.Warn("stream release failed", "error", err)
		}
	}
	s.logger.Info("session stopped")
	return nil
}

// Wait blocks until no scoring job is running.
func (s *Session) Wait() {
	s.scoring.Wait()
}

// Subscribe returns a channel receiving the current snapshot followed by one
// per change. Slow readers miss intermediate snapshots, never the latest.
// The channel is closed when the session stops or cancel is called.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	s.mu.Lock()
	ch <- s.snapshotLocked()
	if s.state == StateClosed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Session) check(op Op) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if CanTransition(s.state, op) {
		return nil
	}
	err := &TransitionError{Op: op, From: s.state}
	if op == OpCapture && s.state == StateCaptured {
		err.Reason = ErrScoringPending
	}
	return err
}

// acquire opens a stream with the current constraints. Called with opMu held.
func (s *Session) acquire(ctx context.Context) error {
	c := s.constraints()
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.acquiring = true
	s.acquireCancel = cancel
	s.touchLocked()
	s.mu.Unlock()

	stream, err := s.device.Acquire(actx, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquiring = false
	s.acquireCancel = nil

	if err != nil {
		if stream != nil {
			stream.Release()
		}
		ae := camera.AsAcquireError(err)
		s.state = StateStreamError
		s.lastErr = ae.Error()
		s.reason = ae.Reason
		s.touchLocked()
		s.logger.Warn("stream acquisition failed", "reason", ae.Reason, "error", err)
		return ae
	}

	s.stream = camera.Guard(stream)
	info := stream.Info()
	s.streamInfo = &info
	s.state = StateStreaming
	s.touchLocked()
	s.logger.Info("stream acquired", "device", info.DeviceID, "width", info.Width, "height", info.Height)
	return nil
}

func (s *Session) score(ctx context.Context, gen uint64, buf *frame.Buffer) {
	defer s.scoring.Done()
	res := s.scorer.Assess(ctx, buf)
	s.scoreReady(gen, res)
}

// scoreReady applies a scoring result if it belongs to the current capture.
func (s *Session) scoreReady(gen uint64, res quality.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != StateCaptured {
		s.stale++
		s.logger.Debug("stale score discarded", "generation", gen, "current", s.generation, "score", float64(res.Score))
		return
	}

	if s.cancelScore != nil {
		s.cancelScore()
		s.cancelScore = nil
	}
	s.result = &res
	s.scoredAt = s.now()
	s.state = StateScored
	s.touchLocked()
	s.logger.Info("frame scored", "generation", gen, "score", float64(res.Score), "verdict", s.policy.Verdict(res.Score))
}

// discardLocked drops the frozen frame and score. Leaving Captured or Scored
// advances the generation so late results are recognized as stale.
func (s *Session) discardLocked() {
	if s.state == StateCaptured || s.state == StateScored {
		s.generation++
	}
	if s.cancelScore != nil {
		s.cancelScore()
		s.cancelScore = nil
	}
	s.buf = nil
	s.result = nil
	s.capturedAt = time.Time{}
	s.scoredAt = time.Time{}
}

// touchLocked stamps the change and notifies subscribers.
func (s *Session) touchLocked() {
	s.updatedAt = s.now()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Full: drop the oldest so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		FormID:       s.formID,
		State:        s.state,
		Error:        s.lastErr,
		Reason:       s.reason,
		SaveError:    s.saveErr,
		Reference:    s.reference,
		Generation:   s.generation,
		StaleResults: s.stale,
		Acquiring:    s.acquiring,
		HasStream:    s.stream != nil,
		HasFrame:     s.buf != nil,
		CreatedAt:    s.createdAt,
		CapturedAt:   s.capturedAt,
		ScoredAt:     s.scoredAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.streamInfo != nil {
		info := *s.streamInfo
		snap.Stream = &info
	}
	if s.buf != nil {
		snap.FrameWidth = s.buf.Width
		snap.FrameHeight = s.buf.Height
	}
	if s.result != nil {
		score := s.result.Score
		snap.Score = &score
		snap.Verdict = s.policy.Verdict(score)
		if s.result.Err != nil {
			snap.ScoreError = s.result.Err.Error()
		}
	}
	return snap
}
