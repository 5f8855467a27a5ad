//go:build linux

package sensor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// PulseCounter counts rising edges on a GPIO line driven by a pedometer
// module's step output. The count continues from start so a restarted
// process does not look like a sensor reset, and it carries across
// resubscribes.
type PulseCounter struct {
	chip     string
	offset   int
	debounce time.Duration
	count    *pulseCount
}

// NewPulseCounter creates a counter for the given chip and BCM line offset.
func NewPulseCounter(chip string, offset int, start int64, debounce time.Duration) *PulseCounter {
	return &PulseCounter{chip: chip, offset: offset, debounce: debounce, count: newPulseCount(start)}
}

// Subscribe requests the line with edge detection, pushes the current
// count once and then once per step. Edges arriving before the first push
// are included in it.
func (p *PulseCounter) Subscribe(h Handler) (Subscription, error) {
	onEdge := func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventRisingEdge {
			return
		}
		p.count.edge()
	}

	// Pull-down matches the Pi boot default for an idle open-collector output.
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(onEdge),
	}
	if p.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(p.debounce))
	}

	line, err := gpiocdev.RequestLine(p.chip, p.offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request pulse pin %d on %s: %w", p.offset, p.chip, err)
	}
	gen := p.count.attach(h)
	return &lineSubscription{line: line, count: p.count, gen: gen}, nil
}

type lineSubscription struct {
	line   *gpiocdev.Line
	count  *pulseCount
	gen    int
	closed atomic.Bool
}

// Close reconfigures the pin to the boot default before releasing it.
func (s *lineSubscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.count.detach(s.gen)

	var errs []error
	if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pulse pin: %w", err))
	}
	if err := s.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pulse pin: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
