package camera

// Preset names for common capture requests
const (
	PresetDefault = "default"
	PresetVGA     = "vga"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetFront   = "front"
)

// Presets returns all available preset constraints.
func Presets() map[string]Constraints {
	return map[string]Constraints{
		PresetDefault: DefaultConstraints(),
		PresetVGA:     VGAConstraints(),
		Preset720p:    HD720Constraints(),
		Preset1080p:   HD1080Constraints(),
		PresetFront:   FrontConstraints(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetVGA,
		Preset720p,
		Preset1080p,
		PresetFront,
	}
}

// GetPreset returns a preset by name, or nil if not found.
func GetPreset(name string) *Constraints {
	if c, ok := Presets()[name]; ok {
		return &c
	}
	return nil
}

// VGAConstraints returns 640x480, for old devices that stall at HD.
func VGAConstraints() Constraints {
	c := DefaultConstraints()
	c.IdealWidth = 640
	c.IdealHeight = 480
	return c
}

// HD720Constraints returns 720p HD. Same as the default request.
func HD720Constraints() Constraints {
	c := DefaultConstraints()
	c.IdealWidth = 1280
	c.IdealHeight = 720
	return c
}

// HD1080Constraints returns 1080p. Finer print on dense forms, slower scoring.
func HD1080Constraints() Constraints {
	c := DefaultConstraints()
	c.IdealWidth = 1920
	c.IdealHeight = 1080
	return c
}

// FrontConstraints asks for the user-facing camera, e.g. laptops without a
// rear camera.
func FrontConstraints() Constraints {
	c := DefaultConstraints()
	c.Facing = FacingUser
	return c
}
