package internal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/notify"
	"github.com/sweeney/step-sensor/internal/sensor"
	"github.com/sweeney/step-sensor/internal/session"
	"github.com/sweeney/step-sensor/internal/status"
	"github.com/sweeney/step-sensor/internal/store"
)

var goals = logic.Goals{Steps: 1000, WaterML: 2000}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// daemon is one process lifetime: a session on a shared store, fed by a
// fake sensor the way the run loop feeds it.
type daemon struct {
	sess    *session.Session
	src     *sensor.FakeSource
	sub     sensor.Subscription
	pub     *notify.FakePublisher
	tracker *status.Tracker
}

func start(t *testing.T, st store.Store, c *clock) *daemon {
	t.Helper()
	d := &daemon{
		src:     sensor.NewFakeSource(),
		pub:     notify.NewFakePublisher(),
		tracker: status.NewTracker(c.now(), status.Config{SensorKind: "fake"}),
	}
	d.sess = session.New(session.Config{
		Goals:     goals,
		Store:     st,
		Publisher: d.pub,
		Status:    d.tracker,
		Now:       c.now,
	})
	d.sess.Restore(context.Background())

	sub, err := d.src.Subscribe(func(r sensor.Reading) {
		d.sess.HandleReading(context.Background(), r)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d.sub = sub
	return d
}

func (d *daemon) reading(t *testing.T, raw int64) {
	t.Helper()
	if err := d.src.Emit(sensor.Reading{Steps: raw, Available: true}); err != nil {
		t.Fatalf("emit %d: %v", raw, err)
	}
}

func (d *daemon) stop(t *testing.T) {
	t.Helper()
	if err := d.sub.Close(); err != nil {
		t.Fatalf("close subscription: %v", err)
	}
	if err := d.sess.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	d.sess.Close()
}

func goalEvents(pub *notify.FakePublisher) []logic.Event {
	var out []logic.Event
	for _, n := range pub.Notifications() {
		out = append(out, n.Event)
	}
	return out
}

func openStore(t *testing.T) (store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, path
}

// TestIntegrationFullDay runs a day across a restart and into the next day.
func TestIntegrationFullDay(t *testing.T) {
	st, _ := openStore(t)
	c := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}

	d := start(t, st, c)

	// First reading anchors the baseline.
	d.reading(t, 52000)
	if got := d.sess.Snapshot().Steps; got != 0 {
		t.Fatalf("after baseline: steps = %d, want 0", got)
	}

	c.t = c.t.Add(time.Hour)
	d.reading(t, 52600)
	d.reading(t, 53100)

	events := goalEvents(d.pub)
	if len(events) != 1 {
		t.Fatalf("expected 1 achievement, got %d", len(events))
	}
	if events[0].Metric != logic.MetricSteps || events[0].Value != 1100 || events[0].Goal != 1000 {
		t.Errorf("unexpected achievement %+v", events[0])
	}

	if err := d.sess.AddWater(context.Background(), 1500); err != nil {
		t.Fatalf("add water: %v", err)
	}
	d.stop(t)

	// Restart the same day: counts and latch survive, nothing re-fires.
	c.t = c.t.Add(2 * time.Hour)
	d = start(t, st, c)

	snap := d.sess.Snapshot()
	if snap.Steps != 1100 || snap.WaterML != 1500 {
		t.Fatalf("restored steps=%d water=%d, want 1100/1500", snap.Steps, snap.WaterML)
	}
	if snap.StepsLatch != logic.AtOrAboveGoal {
		t.Errorf("steps latch not restored: %s", snap.StepsLatch)
	}

	d.reading(t, 53400)
	if got := d.sess.Snapshot().Steps; got != 1400 {
		t.Errorf("steps after restart = %d, want 1400", got)
	}
	if err := d.sess.AddWater(context.Background(), 600); err != nil {
		t.Fatalf("add water: %v", err)
	}

	events = goalEvents(d.pub)
	if len(events) != 1 || events[0].Metric != logic.MetricWater {
		t.Fatalf("expected only the water achievement after restart, got %+v", events)
	}

	// Next morning: everything resets and yesterday lands in history.
	c.t = time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC)
	d.reading(t, 53500)

	snap = d.sess.Snapshot()
	if snap.Day != "2024-05-02" || snap.Steps != 0 || snap.WaterML != 0 {
		t.Errorf("after rollover: %+v", snap)
	}
	if snap.Baseline.Value != 53500 {
		t.Errorf("new baseline = %d, want 53500", snap.Baseline.Value)
	}
	d.stop(t)

	v, ok, err := st.Get(context.Background(), session.HistoryPrefix+"2024-05-01")
	if err != nil || !ok {
		t.Fatalf("history missing: ok=%v err=%v", ok, err)
	}
	var sum logic.DaySummary
	if err := json.Unmarshal([]byte(v), &sum); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	want := logic.DaySummary{
		Day:           "2024-05-01",
		Steps:         1400,
		WaterML:       2100,
		StepsGoal:     1000,
		WaterGoal:     2000,
		StepsAchieved: true,
		WaterAchieved: true,
	}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

// TestIntegrationSensorReset covers a device reboot mid-day: the raw count
// drops below the baseline and the display must not go backwards.
func TestIntegrationSensorReset(t *testing.T) {
	st, _ := openStore(t)
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	d := start(t, st, c)
	defer d.stop(t)

	d.reading(t, 10000)
	d.reading(t, 10700)
	d.reading(t, 120) // rebooted pedometer
	if got := d.sess.Snapshot().Steps; got != 700 {
		t.Fatalf("steps after reset = %d, want 700 (held)", got)
	}

	d.reading(t, 400)
	if got := d.sess.Snapshot().Steps; got != 700 {
		t.Errorf("steps = %d, want 700", got)
	}
	if n := len(goalEvents(d.pub)); n != 0 {
		t.Errorf("no achievement expected, got %d", n)
	}

	counts := d.tracker.Snapshot().Counts
	if counts.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", counts.Rejected)
	}
}

// TestIntegrationSensorUnavailable holds the count while the sensor is gone.
func TestIntegrationSensorUnavailable(t *testing.T) {
	st, _ := openStore(t)
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	d := start(t, st, c)
	defer d.stop(t)

	d.reading(t, 500)
	d.reading(t, 900)
	if err := d.src.Emit(sensor.Reading{Available: false}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	snap := d.tracker.Snapshot()
	if snap.State.SensorAvailable {
		t.Error("sensor should be reported unavailable")
	}
	if snap.State.Steps != 400 {
		t.Errorf("steps = %d, want 400 held", snap.State.Steps)
	}

	d.reading(t, 1600)
	if got := d.sess.Snapshot().Steps; got != 1100 {
		t.Errorf("steps = %d, want 1100", got)
	}
	if n := len(goalEvents(d.pub)); n != 1 {
		t.Errorf("expected 1 achievement after recovery, got %d", n)
	}
}

// TestIntegrationProgressRefresh publishes persisted progress only when it
// changed.
func TestIntegrationProgressRefresh(t *testing.T) {
	st, _ := openStore(t)
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	d := start(t, st, c)
	defer d.stop(t)
	ctx := context.Background()

	d.reading(t, 100)
	d.reading(t, 350)
	if err := d.sess.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	d.sess.Tick(ctx)
	d.sess.Tick(ctx)

	progress := d.pub.Progress()
	if len(progress) != 1 {
		t.Fatalf("expected 1 progress message, got %d", len(progress))
	}
	if progress[0].Steps != 250 || progress[0].StepsGoal != 1000 {
		t.Errorf("unexpected progress %+v", progress[0])
	}

	if err := d.sess.AddWater(ctx, 250); err != nil {
		t.Fatalf("add water: %v", err)
	}
	if err := d.sess.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	d.sess.Tick(ctx)
	if n := len(d.pub.Progress()); n != 2 {
		t.Errorf("expected progress after water change, got %d messages", n)
	}
}
