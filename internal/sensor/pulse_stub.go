//go:build !linux

package sensor

import (
	"errors"
	"time"
)

// PulseCounter is not available on non-Linux platforms.
type PulseCounter struct{}

// NewPulseCounter returns a counter whose Subscribe always fails.
func NewPulseCounter(chip string, offset int, start int64, debounce time.Duration) *PulseCounter {
	return &PulseCounter{}
}

// Subscribe is not implemented on non-Linux platforms.
func (p *PulseCounter) Subscribe(h Handler) (Subscription, error) {
	return nil, errors.New("sensor: gpio pulse counter not supported on this platform (requires Linux)")
}
