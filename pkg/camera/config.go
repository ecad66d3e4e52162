// Package camera provides device-stream acquisition and frame freezing for
// form capture.
//
// A Device hands out at most one live Stream per Acquire. The caller owns
// the stream and must Release it on every exit path; Release is idempotent.
// Constraints are hints: implementations may negotiate down to what the
// device supports, so the delivered frame size can differ from the ideal.
package camera

// Facing modes. Values mirror the browser getUserMedia facingMode hint.
const (
	FacingEnvironment = "environment" // rear camera, used for paper forms
	FacingUser        = "user"
	FacingAny         = ""
)

// Constraints holds the stream request sent to a Device.
// These can be modified via the camera API at runtime.
type Constraints struct {
	// === Device ===
	// DeviceID selects a specific device; empty lets the backend choose.
	DeviceID string `json:"device_id"`

	// Facing is an orientation hint ("environment", "user" or "").
	Facing string `json:"facing"`

	// === Resolution ===
	IdealWidth  int `json:"ideal_width"`  // Preferred frame width in pixels
	IdealHeight int `json:"ideal_height"` // Preferred frame height in pixels
	Framerate   int `json:"framerate"`    // Target FPS

	// JPEGQuality is used when a frozen frame is encoded for preview or save.
	JPEGQuality int `json:"jpeg_quality"`
}

// Limits for constraint validation.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 16384
	MaxHeight    = 16384
	MaxFramerate = 120
)

// DefaultConstraints returns the rear-facing 1280x720 request used for form
// capture.
func DefaultConstraints() Constraints {
	return Constraints{
		Facing:      FacingEnvironment,
		IdealWidth:  1280,
		IdealHeight: 720,
		Framerate:   30,
		JPEGQuality: 90,
	}
}

// Validate checks if the constraint values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Constraints) Validate() []string {
	var errors []string

	if c.IdealWidth < MinWidth || c.IdealWidth > MaxWidth {
		errors = append(errors, "ideal_width must be between 160 and 16384")
	}
	if c.IdealHeight < MinHeight || c.IdealHeight > MaxHeight {
		errors = append(errors, "ideal_height must be between 120 and 16384")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errors = append(errors, "jpeg_quality must be between 1 and 100")
	}

	validFacing := map[string]bool{FacingEnvironment: true, FacingUser: true, FacingAny: true}
	if !validFacing[c.Facing] {
		errors = append(errors, "facing must be environment, user, or empty")
	}

	return errors
}
