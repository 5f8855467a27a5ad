package sensor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultIIOPath is the step counter exposed by IIO accelerometers that
// implement an on-chip pedometer (e.g. BMA400, BMI160).
const DefaultIIOPath = "/sys/bus/iio/devices/iio:device0/in_steps_input"

// IIOPoller reads a cumulative step counter from a sysfs attribute.
// sysfs attributes do not raise inotify events, so the file is polled and a
// reading is pushed only when the value or availability changes.
type IIOPoller struct {
	path     string
	interval time.Duration
	log      *zap.Logger
}

// NewIIOPoller creates a poller for the given sysfs attribute.
func NewIIOPoller(path string, interval time.Duration, logger *zap.Logger) *IIOPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &IIOPoller{path: path, interval: interval, log: logger}
}

// Subscribe starts polling. The first poll happens immediately.
func (p *IIOPoller) Subscribe(h Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{cancel: cancel, done: make(chan struct{})}
	go p.run(ctx, h, sub.done)
	return sub, nil
}

func (p *IIOPoller) run(ctx context.Context, h Handler, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		first     = true
		available bool
		last      int64
	)
	check := func() {
		v, err := p.read()
		if err != nil {
			if first || available {
				p.log.Warn("step counter unavailable", zap.String("path", p.path), zap.Error(err))
				h(Reading{Available: false})
			}
			first, available = false, false
			return
		}
		if first || !available || v != last {
			h(Reading{Steps: v, Available: true})
		}
		first, available, last = false, true, v
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			check()
		}
	}
}

func (p *IIOPoller) read() (int64, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", p.path, err)
	}
	return v, nil
}

type pollSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *pollSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
