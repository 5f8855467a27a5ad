// Package session connects the pure step tracker to the outside world.
// It restores and persists tracker state, publishes achievements and
// progress, and keeps the status view and metrics current.
//
// A Session is not safe for concurrent use. The daemon's run loop owns it
// and feeds it one input at a time.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/metrics"
	"github.com/sweeney/step-sensor/internal/notify"
	"github.com/sweeney/step-sensor/internal/sensor"
	"github.com/sweeney/step-sensor/internal/status"
	"github.com/sweeney/step-sensor/internal/store"
)

// MaxWaterML bounds a single water entry.
const MaxWaterML = 5000

var (
	// ErrInvalidWater is returned for a zero or out-of-range water entry.
	ErrInvalidWater = errors.New("water amount must be non-zero and at most 5000 ml")
	// ErrUnknownMetric is returned when acknowledging an unknown metric.
	ErrUnknownMetric = errors.New("unknown metric")
)

// Config holds a Session's collaborators. Store is required; the rest may
// be nil.
type Config struct {
	Goals     logic.Goals
	Store     store.Store
	Publisher notify.Publisher
	Status    *status.Tracker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// Now defaults to time.Now. Days are derived in its location.
	Now func() time.Time
	// QueueSize is the write queue capacity.
	QueueSize int
}

// Session owns a logic.Tracker and its side effects.
type Session struct {
	tracker *logic.Tracker
	store   store.Store
	pub     notify.Publisher
	status  *status.Tracker
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	w            *writer
	persisted    map[string]string
	lastProgress *notify.Progress
	closed       bool
}

// New creates a session and starts its background writer. Call Restore
// before feeding inputs and Close when done.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	log := cfg.Logger.With(zap.String("component", "session"))

	return &Session{
		tracker:   logic.NewTracker(cfg.Goals, logic.State{}),
		store:     cfg.Store,
		pub:       cfg.Publisher,
		status:    cfg.Status,
		metrics:   cfg.Metrics,
		log:       log,
		now:       cfg.Now,
		w:         newWriter(cfg.Store, cfg.QueueSize, cfg.Metrics, log),
		persisted: make(map[string]string),
	}
}

// HandleReading processes one sensor reading.
func (s *Session) HandleReading(ctx context.Context, r sensor.Reading) {
	now := s.now()
	res := s.tracker.Process(logic.Reading{Steps: r.Steps, Available: r.Available, Time: now})
	if r.Available {
		s.metrics.Reading(hasEvent(res, logic.EventReadingRejected))
		if s.status != nil {
			s.status.SetLastReading(now)
		}
	}
	s.apply(ctx, res)
}

// AddWater records a water intake delta in milliliters. Negative values
// undo earlier entries.
func (s *Session) AddWater(ctx context.Context, ml int64) error {
	if ml == 0 || ml > MaxWaterML || ml < -MaxWaterML {
		return ErrInvalidWater
	}
	s.apply(ctx, s.tracker.AddWater(ml, s.now()))
	return nil
}

// Acknowledge clears the achievement latch for metric ("steps" or "water").
func (s *Session) Acknowledge(ctx context.Context, metric string) error {
	m := logic.Metric(metric)
	if m != logic.MetricSteps && m != logic.MetricWater {
		return ErrUnknownMetric
	}
	s.apply(ctx, s.tracker.Acknowledge(m, s.now()))
	return nil
}

// Tick detects a day change without input and refreshes the published
// progress.
func (s *Session) Tick(ctx context.Context) {
	s.apply(ctx, s.tracker.Tick(s.now()))
	s.refresh(ctx)
}

// Snapshot returns the current tracker state.
func (s *Session) Snapshot() logic.State {
	return s.tracker.State()
}

// Summary returns the running summary of the current day.
func (s *Session) Summary() logic.DaySummary {
	return s.tracker.Summary()
}

// Goals returns the configured goals.
func (s *Session) Goals() logic.Goals {
	return s.tracker.Goals()
}

// Flush blocks until every queued write has been attempted.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return nil
	}
	return s.w.flush(ctx)
}

// Close drains the write queue and stops the writer. The store and
// publisher are owned by the caller and stay open.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.w.close()
}

// apply performs the side effects of one tracker result.
func (s *Session) apply(ctx context.Context, res logic.Result) {
	for _, e := range res.Events {
		s.handleEvent(e)
	}
	if res.Closed != nil {
		s.writeHistory(*res.Closed)
	}
	if res.Changed {
		s.persist(s.tracker.State())
	}

	st := s.tracker.State()
	if s.status != nil {
		s.status.Update(st, s.tracker.Goals(), s.tracker.Counts())
	}
	s.metrics.SetState(st)
}

func (s *Session) handleEvent(e logic.Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("day", e.Day),
		zap.Int64("value", e.Value),
	}
	if e.Metric != "" {
		fields = append(fields, zap.String("metric", string(e.Metric)))
	}

	switch e.Type {
	case logic.EventGoalReached:
		s.metrics.GoalReached(e.Metric)
		s.log.Info("goal reached", append(fields, zap.Int64("goal", e.Goal))...)
		s.publish(e)
	case logic.EventReadingRejected:
		s.log.Warn("reading rejected by monotonic guard",
			append(fields, zap.Int64("candidate", e.Value), zap.Int64("last_known", e.Previous))...)
	case logic.EventSensorUnavailable:
		s.log.Warn("step sensor unavailable, holding last count", fields...)
	case logic.EventBaselineReset:
		s.log.Info("baseline anchored", fields...)
	default:
		s.log.Info("tracker event", fields...)
	}
}

func (s *Session) publish(e logic.Event) {
	if s.pub == nil {
		return
	}
	n := notify.NewNotification(e)
	if err := s.pub.Publish(n); err != nil {
		s.metrics.PublishError()
		s.log.Warn("publish achievement failed", zap.String("id", n.ID), zap.Error(err))
	}
}

func hasEvent(res logic.Result, typ logic.EventType) bool {
	for _, e := range res.Events {
		if e.Type == typ {
			return true
		}
	}
	return false
}
