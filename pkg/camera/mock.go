package camera

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

// Mock implements Device for testing and for running the service without
// camera hardware. All behaviour can be customized via function fields.
type Mock struct {
	// AcquireFunc is called when Acquire is invoked.
	// If nil, a MockStream is opened via Open.
	AcquireFunc func(ctx context.Context, c Constraints) (Stream, error)

	// FrameFunc produces the frozen frame for streams opened by Open.
	// If nil, a checkerboard at the ideal size is returned.
	FrameFunc func(c Constraints) (*frame.Buffer, error)

	// Exclusive makes a second Acquire fail with ReasonDeviceBusy while a
	// stream is live, like real single-client camera hardware.
	Exclusive bool

	// Tracking
	mu       sync.Mutex
	calls    []MockCall
	active   int
	opened   int
	released int
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method      string
	Constraints Constraints
	Time        time.Time
}

// NewMock creates a new mock device with sensible defaults.
func NewMock() *Mock {
	return &Mock{Exclusive: true}
}

// Acquire calls AcquireFunc, or opens a MockStream, and records the call.
func (m *Mock) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	m.record("Acquire", c)
	if err := ctx.Err(); err != nil {
		return nil, NewAcquireError(ReasonUnknown, err)
	}
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, c)
	}

	m.mu.Lock()
	busy := m.Exclusive && m.active > 0
	m.mu.Unlock()
	if busy {
		return nil, NewAcquireError(ReasonDeviceBusy, nil)
	}
	return m.Open(c), nil
}

// Open creates a live stream tracked by the mock. AcquireFunc
// implementations call it to hand out streams.
func (m *Mock) Open(c Constraints) *MockStream {
	m.mu.Lock()
	m.active++
	m.opened++
	m.mu.Unlock()

	facing := c.Facing
	if facing == FacingAny {
		facing = FacingEnvironment
	}
	return &MockStream{
		mock:        m,
		constraints: c,
		info: StreamInfo{
			DeviceID: "mock",
			Width:    c.IdealWidth,
			Height:   c.IdealHeight,
			Facing:   facing,
		},
	}
}

// FailWith makes every Acquire fail with the given reason.
func (m *Mock) FailWith(reason AcquireReason) {
	m.AcquireFunc = func(ctx context.Context, c Constraints) (Stream, error) {
		return nil, NewAcquireError(reason, nil)
	}
}

// Active returns the number of streams not yet released.
func (m *Mock) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Opened returns the number of streams handed out.
func (m *Mock) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Released returns the number of effective releases (repeat calls excluded).
func (m *Mock) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of calls to a specific method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

func (m *Mock) record(method string, c Constraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Constraints: c, Time: time.Now()})
}

func (m *Mock) frame(c Constraints) (*frame.Buffer, error) {
	if m.FrameFunc != nil {
		return m.FrameFunc(c)
	}
	return frame.Checkerboard(c.IdealWidth, c.IdealHeight, 16)
}

// MockStream is a stream handed out by Mock.
type MockStream struct {
	mock        *Mock
	constraints Constraints
	info        StreamInfo

	mu       sync.Mutex
	released bool
	frames   int
}

// Frame returns the mock's configured frame.
func (s *MockStream) Frame() (*frame.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	s.frames++
	s.mock.record("Frame", s.constraints)
	return s.mock.frame(s.constraints)
}

// Info returns the negotiated stream description.
func (s *MockStream) Info() StreamInfo {
	return s.info
}

// Release stops the stream. Repeat calls are no-ops.
func (s *MockStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	s.mock.mu.Lock()
	s.mock.active--
	s.mock.released++
	s.mock.mu.Unlock()
	s.mock.record("Release", s.constraints)
	return nil
}

// Released reports whether Release has been called.
func (s *MockStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
