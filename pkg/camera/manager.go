package camera

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager holds the current stream constraints and handles updates.
// Sessions read the constraints at acquisition time, so changes apply to
// the next Start, Retake or Retry.
type Manager struct {
	constraints Constraints
	mu          sync.RWMutex

	// Callback when constraints change
	OnChange func(c Constraints) error
}

// NewManager creates a new manager with default constraints.
func NewManager() *Manager {
	return &Manager{
		constraints: DefaultConstraints(),
	}
}

// Constraints returns the current stream constraints.
func (m *Manager) Constraints() Constraints {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.constraints
}

// Set replaces the constraints after validation.
func (m *Manager) Set(c Constraints) error {
	if errors := c.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.Lock()
	m.constraints = c
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(c); err != nil {
			return fmt.Errorf("failed to apply constraints: %w", err)
		}
	}

	return nil
}

// Update updates specific fields of the constraints.
// Accepts a map of field names to values; "preset" selects a base preset
// before the remaining fields are applied.
func (m *Manager) Update(params map[string]any) error {
	c := m.Constraints()

	if presetName, ok := params["preset"].(string); ok {
		preset := GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		c = *preset
	}

	for key, value := range params {
		switch key {
		case "device_id":
			if v, ok := value.(string); ok {
				c.DeviceID = v
			}
		case "facing":
			if v, ok := value.(string); ok {
				c.Facing = v
			}
		case "ideal_width":
			if v, ok := toInt(value); ok {
				c.IdealWidth = v
			}
		case "ideal_height":
			if v, ok := toInt(value); ok {
				c.IdealHeight = v
			}
		case "framerate":
			if v, ok := toInt(value); ok {
				c.Framerate = v
			}
		case "jpeg_quality":
			if v, ok := toInt(value); ok {
				c.JPEGQuality = v
			}
		}
	}

	return m.Set(c)
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
