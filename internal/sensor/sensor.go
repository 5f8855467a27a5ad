// Package sensor provides step counter sources with hardware abstraction.
// Real sources read a Linux IIO step counter or count pulses on a GPIO line.
// The fake source allows testing without hardware.
package sensor

// Reading is a single sample pushed by a Source.
type Reading struct {
	// Steps is the cumulative counter. It only grows while the device
	// stays powered; a reboot may restart it from zero.
	Steps int64
	// Available is false when the counter could not be read. Steps is
	// meaningless in that case.
	Available bool
}

// Handler receives readings. It may be called from any goroutine, one call
// at a time per subscription.
type Handler func(Reading)

// Subscription is returned by Source.Subscribe. Close stops delivery; no
// handler call starts after Close returns.
type Subscription interface {
	Close() error
}

// Source pushes readings when the step count changes.
type Source interface {
	Subscribe(h Handler) (Subscription, error)
}

// Defaults for the GPIO pulse counter (BCM numbering).
const (
	DefaultChip     = "gpiochip0"
	DefaultPulsePin = 17
)
