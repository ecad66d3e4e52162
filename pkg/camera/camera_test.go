package camera

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/teslashibe/go-formcam/pkg/frame"
)

func TestDefaultConstraints(t *testing.T) {
	c := DefaultConstraints()

	if c.Facing != FacingEnvironment {
		t.Errorf("Expected Facing=environment, got %q", c.Facing)
	}
	if c.IdealWidth != 1280 || c.IdealHeight != 720 {
		t.Errorf("Expected 1280x720, got %dx%d", c.IdealWidth, c.IdealHeight)
	}
	if errs := c.Validate(); len(errs) != 0 {
		t.Errorf("default constraints should validate: %v", errs)
	}
}

func TestPresetsValidate(t *testing.T) {
	for _, name := range PresetNames() {
		p := GetPreset(name)
		if p == nil {
			t.Fatalf("preset %s missing", name)
		}
		if errs := p.Validate(); len(errs) != 0 {
			t.Errorf("%s: %v", name, errs)
		}
	}
	if GetPreset("8k") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestConstraintsValidate(t *testing.T) {
	c := Constraints{Facing: "sideways", IdealWidth: 10, IdealHeight: 10, Framerate: 0, JPEGQuality: 0}
	errs := c.Validate()
	if len(errs) != 5 {
		t.Errorf("expected 5 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestManagerUpdate(t *testing.T) {
	m := NewManager()

	var applied Constraints
	m.OnChange = func(c Constraints) error {
		applied = c
		return nil
	}

	err := m.Update(map[string]any{
		"preset":       Preset1080p,
		"facing":       FacingUser,
		"jpeg_quality": json.Number("80"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := m.Constraints()
	if got.IdealWidth != 1920 || got.Facing != FacingUser || got.JPEGQuality != 80 {
		t.Errorf("unexpected constraints: %+v", got)
	}
	if applied != got {
		t.Errorf("OnChange saw %+v, want %+v", applied, got)
	}

	if err := m.Update(map[string]any{"preset": "nope"}); err == nil {
		t.Error("unknown preset should fail")
	}
	if err := m.Update(map[string]any{"ideal_width": 5.0}); err == nil {
		t.Error("out of range width should fail")
	}
	if m.Constraints().IdealWidth != 1920 {
		t.Error("failed update must not change constraints")
	}

	m.OnChange = func(Constraints) error { return errors.New("device rejected") }
	if err := m.Update(map[string]any{"framerate": 15}); err == nil {
		t.Error("callback error should propagate")
	}
}

func TestAcquireError(t *testing.T) {
	err := NewAcquireError(ReasonPermissionDenied, errors.New("NotAllowedError"))
	if err.Error() != "permission denied" {
		t.Errorf("Error() = %q", err.Error())
	}

	var ae *AcquireError
	if !errors.As(error(err), &ae) || ae.Reason != ReasonPermissionDenied {
		t.Error("errors.As should find AcquireError")
	}

	wrapped := AsAcquireError(errors.New("driver exploded"))
	if wrapped.Reason != ReasonUnknown || wrapped.Error() != "driver exploded" {
		t.Errorf("unexpected normalization: %+v", wrapped)
	}
	if AsAcquireError(err) != err {
		t.Error("AsAcquireError should pass through AcquireError")
	}
	if AsAcquireError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestMockDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire freeze release", func(t *testing.T) {
		m := NewMock()
		s, err := m.Acquire(ctx, VGAConstraints())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if m.Active() != 1 {
			t.Errorf("Active = %d, want 1", m.Active())
		}

		buf, err := s.Frame()
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}
		if buf.Width != 640 || buf.Height != 480 || buf.Channels != frame.RGBA {
			t.Errorf("unexpected frame %dx%dx%d", buf.Width, buf.Height, buf.Channels)
		}

		// Freezing does not stop the stream.
		if m.Active() != 1 {
			t.Error("Frame must not release the stream")
		}

		if err := s.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if err := s.Release(); err != nil {
			t.Errorf("second Release should be a no-op, got %v", err)
		}
		if m.Active() != 0 || m.Released() != 1 {
			t.Errorf("Active=%d Released=%d, want 0/1", m.Active(), m.Released())
		}

		if _, err := s.Frame(); !errors.Is(err, ErrReleased) {
			t.Errorf("Frame after release: %v", err)
		}
	})

	t.Run("exclusive device is busy", func(t *testing.T) {
		m := NewMock()
		s, err := m.Acquire(ctx, DefaultConstraints())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		defer s.Release()

		_, err = m.Acquire(ctx, DefaultConstraints())
		var ae *AcquireError
		if !errors.As(err, &ae) || ae.Reason != ReasonDeviceBusy {
			t.Errorf("expected device busy, got %v", err)
		}
	})

	t.Run("fail with reason", func(t *testing.T) {
		m := NewMock()
		m.FailWith(ReasonPermissionDenied)
		_, err := m.Acquire(ctx, DefaultConstraints())
		if err == nil || err.Error() != "permission denied" {
			t.Errorf("expected permission denied, got %v", err)
		}
		if m.CallCount("Acquire") != 1 {
			t.Errorf("CallCount = %d", m.CallCount("Acquire"))
		}
	})

	t.Run("no frame", func(t *testing.T) {
		m := NewMock()
		m.FrameFunc = func(Constraints) (*frame.Buffer, error) { return nil, ErrNoFrame }
		s, _ := m.Acquire(ctx, DefaultConstraints())
		defer s.Release()
		if _, err := s.Frame(); !errors.Is(err, ErrNoFrame) {
			t.Errorf("expected ErrNoFrame, got %v", err)
		}
	})
}

func TestGuard(t *testing.T) {
	m := NewMock()
	raw := m.Open(DefaultConstraints())
	g := Guard(raw)

	if Guard(g) != g {
		t.Error("guarding twice should return the same stream")
	}
	if Guard(nil) != nil {
		t.Error("Guard(nil) should be nil")
	}

	for i := 0; i < 3; i++ {
		if err := g.Release(); err != nil {
			t.Fatalf("Release #%d: %v", i, err)
		}
	}
	if m.CallCount("Release") != 1 {
		t.Errorf("underlying Release called %d times, want 1", m.CallCount("Release"))
	}
}
