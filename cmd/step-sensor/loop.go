package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/metrics"
	"github.com/sweeney/step-sensor/internal/notify"
	"github.com/sweeney/step-sensor/internal/sensor"
	"github.com/sweeney/step-sensor/internal/session"
	"github.com/sweeney/step-sensor/internal/status"
)

// errStopped is returned to HTTP callers once the loop has exited.
var errStopped = errors.New("daemon is shutting down")

// command runs on the loop goroutine with exclusive access to the session.
type command func(ctx context.Context, s *session.Session)

// controller implements web.Controller by handing each call to the loop.
type controller struct {
	cmds    chan<- command
	stopped <-chan struct{}
}

func (c *controller) do(ctx context.Context, fn command) error {
	done := make(chan struct{})
	wrapped := func(_ context.Context, s *session.Session) {
		defer close(done)
		fn(ctx, s)
	}
	select {
	case c.cmds <- wrapped:
	case <-c.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *controller) AddWater(ctx context.Context, ml int64) (int64, error) {
	var (
		total int64
		err   error
	)
	if derr := c.do(ctx, func(ctx context.Context, s *session.Session) {
		if err = s.AddWater(ctx, ml); err == nil {
			total = s.Snapshot().WaterML
		}
	}); derr != nil {
		return 0, derr
	}
	return total, err
}

func (c *controller) Acknowledge(ctx context.Context, metric string) error {
	var err error
	if derr := c.do(ctx, func(ctx context.Context, s *session.Session) {
		err = s.Acknowledge(ctx, metric)
	}); derr != nil {
		return derr
	}
	return err
}

func (c *controller) History(ctx context.Context, days int) ([]logic.DaySummary, error) {
	var (
		items []logic.DaySummary
		err   error
	)
	if derr := c.do(ctx, func(ctx context.Context, s *session.Session) {
		items, err = s.History(ctx, days)
	}); derr != nil {
		return nil, derr
	}
	return items, err
}

// loopConfig wires the run loop. Nil channels never fire, so a disabled
// heartbeat or watchdog is simply left nil.
type loopConfig struct {
	Session   *session.Session
	Source    sensor.Source
	Publisher notify.Publisher
	Conn      notify.ConnectionStatus
	Status    *status.Tracker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time

	// StaleAfter is the silence after which Watchdog ticks resubscribe.
	StaleAfter time.Duration

	Refresh   <-chan time.Time
	Heartbeat <-chan time.Time
	Watchdog  <-chan time.Time
	Signals   <-chan os.Signal
	Commands  <-chan command
}

// loop owns the session. Every input is handled on the goroutine that
// called runLoop.
type loop struct {
	loopConfig
	log *zap.Logger

	readings    chan sensor.Reading
	sub         sensor.Subscription
	stopSub     chan struct{}
	lastReading time.Time
}

func runLoop(cfg loopConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &loop{
		loopConfig: cfg,
		log:        cfg.Logger.With(zap.String("component", "loop")),
		readings:   make(chan sensor.Reading, 16),
	}

	ctx := context.Background()
	if err := l.subscribe(); err != nil {
		// A missing sensor is not fatal: water tracking keeps working and
		// the watchdog retries.
		l.log.Error("subscribe to step sensor failed", zap.Error(err))
		l.Session.HandleReading(ctx, sensor.Reading{Available: false})
	}
	defer l.unsubscribe()
	l.lastReading = l.Now()

	// Publish progress right away rather than after the first refresh.
	l.Session.Tick(ctx)

	for {
		select {
		case s := <-l.Signals:
			l.shutdown(ctx, s)
			return nil

		case r := <-l.readings:
			l.lastReading = l.Now()
			l.Session.HandleReading(ctx, r)

		case cmd := <-l.Commands:
			cmd(ctx, l.Session)

		case <-l.Refresh:
			l.syncConnected()
			l.Session.Tick(ctx)

		case <-l.Heartbeat:
			l.heartbeat()

		case <-l.Watchdog:
			l.checkStale()
		}
	}
}

func (l *loop) subscribe() error {
	stop := make(chan struct{})
	sub, err := l.Source.Subscribe(func(r sensor.Reading) {
		select {
		case l.readings <- r:
		case <-stop:
		}
	})
	if err != nil {
		return err
	}
	l.sub, l.stopSub = sub, stop
	return nil
}

func (l *loop) unsubscribe() {
	if l.sub == nil {
		return
	}
	close(l.stopSub)
	if err := l.sub.Close(); err != nil {
		l.log.Warn("close step sensor", zap.Error(err))
	}
	l.sub, l.stopSub = nil, nil
}

// checkStale reopens the subscription after StaleAfter without readings.
// Step state is left alone; the next reading goes through the guard as usual.
func (l *loop) checkStale() {
	if l.StaleAfter <= 0 {
		return
	}
	silent := l.Now().Sub(l.lastReading)
	if silent < l.StaleAfter {
		return
	}
	l.log.Warn("no step readings, resubscribing", zap.Duration("silent", silent))
	l.Metrics.SensorRestart()
	l.unsubscribe()
	// Sources may push their current count from inside Subscribe, on this
	// goroutine, so the channel must have room.
	l.drainReadings(context.Background())
	if err := l.subscribe(); err != nil {
		l.log.Error("resubscribe to step sensor failed", zap.Error(err))
	}
	l.lastReading = l.Now()
}

func (l *loop) drainReadings(ctx context.Context) {
	for {
		select {
		case r := <-l.readings:
			l.Session.HandleReading(ctx, r)
		default:
			return
		}
	}
}

func (l *loop) syncConnected() {
	if l.Status != nil && l.Conn != nil {
		l.Status.SetMQTTConnected(l.Conn.IsConnected())
	}
}

func (l *loop) heartbeat() {
	l.syncConnected()
	ev := notify.SystemEvent{Timestamp: l.Now(), Event: notify.EventHeartbeat}
	if l.Status != nil {
		snap := l.Status.Snapshot()
		ev.RawPayload = status.FormatStatusEvent(snap, notify.EventHeartbeat, "")
		l.log.Debug("heartbeat",
			zap.Duration("uptime", snap.Uptime()),
			zap.Int("readings", snap.Counts.Readings),
			zap.Int("rejected", snap.Counts.Rejected))
	}
	if err := l.Publisher.PublishSystem(ev); err != nil {
		l.Metrics.PublishError()
		l.log.Warn("heartbeat publish failed", zap.Error(err))
	}
}

func (l *loop) shutdown(ctx context.Context, s os.Signal) {
	l.log.Info("shutting down", zap.String("signal", s.String()))
	l.unsubscribe()
	if err := l.Session.Flush(ctx); err != nil {
		l.log.Warn("flush state before shutdown", zap.Error(err))
	}

	reason := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		reason = "SIGINT"
	case syscall.SIGTERM:
		reason = "SIGTERM"
	}
	ev := notify.SystemEvent{
		Timestamp: l.Now(),
		Event:     notify.EventShutdown,
		Reason:    reason,
		Retained:  true,
	}
	if l.Status != nil {
		l.syncConnected()
		ev.RawPayload = status.FormatStatusEvent(l.Status.Snapshot(), notify.EventShutdown, reason)
	}
	if err := l.Publisher.PublishSystem(ev); err != nil {
		l.log.Warn("publish shutdown event failed", zap.Error(err))
	}
}
