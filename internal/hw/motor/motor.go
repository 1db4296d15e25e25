package motor

import (
	"sync"

	"github.com/cjeanneret/thermoturret/internal/debug"
)

// Level bounds, in percent of full duty.
const (
	MinLevel = -100.0
	MaxLevel = 100.0
)

// Motor is the rotational actuator. Positive levels turn clockwise.
// Implementations clip the level to [MinLevel, MaxLevel].
type Motor interface {
	SetLevel(level float64) error
}

// Clamp limits a signed level to the actuator's physical range.
func Clamp(level float64) float64 {
	switch {
	case level > MaxLevel:
		return MaxLevel
	case level < MinLevel:
		return MinLevel
	default:
		return level
	}
}

// Mock keeps the last commanded level in memory.
type Mock struct {
	mu    sync.Mutex
	level float64
}

func (m *Mock) SetLevel(level float64) error {
	level = Clamp(level)
	debug.Trace("Motor (mock) level=%.1f", level)
	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
	return nil
}

// Level returns the last clamped level.
func (m *Mock) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
