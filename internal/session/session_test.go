package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/notify"
	"github.com/sweeney/step-sensor/internal/sensor"
	"github.com/sweeney/step-sensor/internal/status"
	"github.com/sweeney/step-sensor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	day1 = "2024-05-01"
	day2 = "2024-05-02"
)

var testGoals = logic.Goals{Steps: 10000, WaterML: 2000}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func at(day string, hour int) time.Time {
	d, _ := time.Parse(logic.DayLayout, day)
	return d.Add(time.Duration(hour) * time.Hour)
}

type fixture struct {
	s     *Session
	store *store.FakeStore
	pub   *notify.FakePublisher
	clock *clock
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, seed map[string]string, now time.Time) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		store: store.NewFakeStore(seed),
		pub:   notify.NewFakePublisher(),
		clock: &clock{t: now},
		logs:  logs,
	}
	f.s = New(Config{
		Goals:     testGoals,
		Store:     f.store,
		Publisher: f.pub,
		Logger:    zap.New(core),
		Now:       f.clock.now,
	})
	t.Cleanup(f.s.Close)
	f.s.Restore(context.Background())
	return f
}

func (f *fixture) read(raw int64) {
	f.s.HandleReading(context.Background(), sensor.Reading{Steps: raw, Available: true})
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.s.Flush(ctx))
}

func TestFirstReadingAnchorsAndPersists(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))

	f.read(48000)
	f.flush(t)

	st := f.s.Snapshot()
	assert.Equal(t, int64(0), st.Steps)
	assert.Equal(t, logic.Baseline{Day: day1, Value: 48000}, st.Baseline)

	assert.Equal(t, day1, f.store.Value(KeyBaselineDay))
	assert.Equal(t, "48000", f.store.Value(KeyBaselineValue))
	assert.Equal(t, day1, f.store.Value(KeyStepsDay))
	assert.Equal(t, "0", f.store.Value(KeyStepsDisplay))
	assert.Equal(t, "48000", f.store.Value(KeySensorRaw))
	assert.Equal(t, "", f.store.Value(KeyLatchSteps))
}

func TestUnchangedKeysNotRewritten(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.read(48000)
	f.flush(t)
	before := f.store.Sets

	f.read(48010)
	f.flush(t)

	// Only steps.display and sensor.raw change.
	assert.Equal(t, before+2, f.store.Sets)
	assert.Equal(t, "10", f.store.Value(KeyStepsDisplay))
}

func TestRestoreSameDay(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyBaselineDay:   day1,
		KeyBaselineValue: "48000",
		KeyStepsDay:      day1,
		KeyStepsDisplay:  "5000",
		KeySensorRaw:     "53000",
		KeyWaterDay:      day1,
		KeyWaterML:       "500",
	}, at(day1, 12))

	st := f.s.Snapshot()
	assert.Equal(t, day1, st.Day)
	assert.Equal(t, int64(5000), st.Steps)
	assert.Equal(t, int64(500), st.WaterML)
	assert.Equal(t, int64(53000), st.LastRaw)

	f.read(53500)
	assert.Equal(t, int64(5500), f.s.Snapshot().Steps, "counts from the restored baseline")
}

func TestRestoreStaleDayWritesHistory(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyBaselineDay:   day1,
		KeyBaselineValue: "40000",
		KeyStepsDay:      day1,
		KeyStepsDisplay:  "12000",
		KeySensorRaw:     "52000",
		KeyWaterDay:      day1,
		KeyWaterML:       "2500",
		KeyLatchSteps:    day1,
	}, at(day2, 7))

	st := f.s.Snapshot()
	assert.Equal(t, int64(0), st.Steps)
	assert.Equal(t, int64(0), st.WaterML)
	assert.Equal(t, logic.BelowGoal, st.StepsLatch, "yesterday's latch does not carry over")

	f.flush(t)
	var sum logic.DaySummary
	require.NoError(t, json.Unmarshal([]byte(f.store.Value(HistoryPrefix+day1)), &sum))
	assert.Equal(t, logic.DaySummary{
		Day: day1, Steps: 12000, WaterML: 2500,
		StepsGoal: 10000, WaterGoal: 2000,
		StepsAchieved: true, WaterAchieved: true,
	}, sum)

	f.read(52100)
	st = f.s.Snapshot()
	assert.Equal(t, logic.Baseline{Day: day2, Value: 52100}, st.Baseline)
	assert.Equal(t, int64(0), st.Steps)
}

func TestRestoreKeepsExistingHistory(t *testing.T) {
	existing := `{"day":"2024-05-01","steps":9999}`
	f := newFixture(t, map[string]string{
		KeyStepsDay:          day1,
		KeyStepsDisplay:      "12000",
		HistoryPrefix + day1: existing,
	}, at(day2, 7))

	f.flush(t)
	assert.Equal(t, existing, f.store.Value(HistoryPrefix+day1))
}

func TestRestoreCorruptValues(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyBaselineDay:   day1,
		KeyBaselineValue: "not-a-number",
		KeyStepsDay:      day1,
		KeyStepsDisplay:  "-5",
	}, at(day1, 9))

	st := f.s.Snapshot()
	assert.Equal(t, logic.Baseline{}, st.Baseline)
	assert.Equal(t, int64(0), st.Steps)
	assert.NotZero(t, f.logs.FilterMessage("corrupt persisted value, using default").Len())

	f.read(30000)
	assert.Equal(t, logic.Baseline{Day: day1, Value: 30000}, f.s.Snapshot().Baseline)
}

func TestRestoreRebuildsCorruptBaseline(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyBaselineDay:   day1,
		KeyBaselineValue: "garbage",
		KeyStepsDay:      day1,
		KeyStepsDisplay:  "5000",
		KeySensorRaw:     "53000",
	}, at(day1, 9))

	st := f.s.Snapshot()
	assert.Equal(t, int64(5000), st.Steps)
	assert.Equal(t, logic.Baseline{Day: day1, Value: 48000}, st.Baseline)
	assert.Equal(t, 1, f.logs.FilterMessage("baseline missing, rebuilt from last raw count").Len())

	f.read(53100)
	assert.Equal(t, int64(5100), f.s.Snapshot().Steps)

	f.flush(t)
	assert.Equal(t, "48000", f.store.Value(KeyBaselineValue))
	assert.Equal(t, "5100", f.store.Value(KeyStepsDisplay))
}

func TestRestoreMissingBaselineWithoutRawHoldsCount(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyStepsDay:     day1,
		KeyStepsDisplay: "5000",
	}, at(day1, 9))

	f.read(53100)
	assert.Equal(t, int64(5000), f.s.Snapshot().Steps, "count never drops within a day")
	f.read(53250)
	assert.Equal(t, int64(5150), f.s.Snapshot().Steps)
}

func TestRestoreReadErrorsFallBackToDefaults(t *testing.T) {
	fs := store.NewFakeStore(map[string]string{KeyStepsDay: day1, KeyStepsDisplay: "5000"})
	fs.GetError = errors.New("io error")

	s := New(Config{Goals: testGoals, Store: fs, Now: (&clock{t: at(day1, 9)}).now})
	defer s.Close()
	s.Restore(context.Background())

	assert.Equal(t, int64(0), s.Snapshot().Steps)
	s.HandleReading(context.Background(), sensor.Reading{Steps: 100, Available: true})
	assert.Equal(t, logic.Baseline{Day: day1, Value: 100}, s.Snapshot().Baseline)
}

func TestGoalPublishedOnce(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.read(0)
	f.read(9990)
	f.read(10005)
	f.read(10500)
	f.flush(t)

	got := f.pub.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, logic.MetricSteps, got[0].Event.Metric)
	assert.Equal(t, int64(10005), got[0].Event.Value)
	_, err := uuid.Parse(got[0].ID)
	assert.NoError(t, err)

	assert.Equal(t, day1, f.store.Value(KeyLatchSteps))
}

func TestRestoredLatchPreventsRefire(t *testing.T) {
	f := newFixture(t, map[string]string{
		KeyBaselineDay:   day1,
		KeyBaselineValue: "0",
		KeyStepsDay:      day1,
		KeyStepsDisplay:  "10500",
		KeySensorRaw:     "10500",
		KeyLatchSteps:    day1,
	}, at(day1, 15))

	f.read(11000)
	assert.Empty(t, f.pub.Notifications())
	assert.Equal(t, logic.AtOrAboveGoal, f.s.Snapshot().StepsLatch)
}

func TestAddWaterValidation(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()

	for _, ml := range []int64{0, MaxWaterML + 1, -MaxWaterML - 1} {
		assert.ErrorIs(t, f.s.AddWater(ctx, ml), ErrInvalidWater, "ml=%d", ml)
	}
	require.NoError(t, f.s.AddWater(ctx, 250))
	require.NoError(t, f.s.AddWater(ctx, -100))
	require.NoError(t, f.s.AddWater(ctx, -1000))
	f.flush(t)

	assert.Equal(t, int64(0), f.s.Snapshot().WaterML, "total never drops below zero")
	assert.Equal(t, "0", f.store.Value(KeyWaterML))
	assert.Equal(t, day1, f.store.Value(KeyWaterDay))
}

func TestWaterGoal(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()

	require.NoError(t, f.s.AddWater(ctx, 1500))
	require.NoError(t, f.s.AddWater(ctx, 500))
	require.NoError(t, f.s.AddWater(ctx, 250))

	got := f.pub.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, logic.MetricWater, got[0].Event.Metric)
	assert.Equal(t, int64(2000), got[0].Event.Value)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()

	assert.ErrorIs(t, f.s.Acknowledge(ctx, "sleep"), ErrUnknownMetric)

	f.read(0)
	f.read(10001)
	f.flush(t)
	require.Equal(t, day1, f.store.Value(KeyLatchSteps))

	require.NoError(t, f.s.Acknowledge(ctx, "steps"))
	f.flush(t)
	assert.Equal(t, logic.BelowGoal, f.s.Snapshot().StepsLatch)
	assert.Equal(t, "", f.store.Value(KeyLatchSteps))

	// Still above goal: no crossing, no second achievement.
	f.read(10500)
	assert.Len(t, f.pub.Notifications(), 1)
}

func TestTickRollsOver(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()
	f.read(1000)
	f.read(4000)
	require.NoError(t, f.s.AddWater(ctx, 750))

	f.clock.t = at(day2, 0).Add(time.Minute)
	f.s.Tick(ctx)
	f.flush(t)

	st := f.s.Snapshot()
	assert.Equal(t, day2, st.Day)
	assert.Equal(t, int64(0), st.Steps)
	assert.Equal(t, int64(0), st.WaterML)

	var sum logic.DaySummary
	require.NoError(t, json.Unmarshal([]byte(f.store.Value(HistoryPrefix+day1)), &sum))
	assert.Equal(t, int64(3000), sum.Steps)
	assert.Equal(t, int64(750), sum.WaterML)
	assert.False(t, sum.StepsAchieved)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, map[string]string{
		HistoryPrefix + "2024-04-29": `{"day":"2024-04-29","steps":8000}`,
		HistoryPrefix + "2024-04-30": `{"day":"2024-04-30","steps":11000,"steps_achieved":true}`,
		HistoryPrefix + "2024-04-28": `{broken`,
	}, at(day1, 8))
	ctx := context.Background()
	f.read(100)
	f.read(600)

	items, err := f.s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3, "corrupt entries are skipped")
	assert.Equal(t, day1, items[0].Day, "current day first")
	assert.Equal(t, int64(500), items[0].Steps)
	assert.Equal(t, "2024-04-30", items[1].Day)
	assert.Equal(t, "2024-04-29", items[2].Day)

	items, err = f.s.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	f.store.ListError = errors.New("io error")
	_, err = f.s.History(ctx, 7)
	assert.Error(t, err)
}

func TestRefreshPublishesOnlyChanges(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()
	f.read(1000)
	f.read(3000)
	f.flush(t)

	f.s.Tick(ctx)
	f.s.Tick(ctx)
	got := f.pub.Progress()
	require.Len(t, got, 1, "unchanged progress is not republished")
	assert.Equal(t, int64(2000), got[0].Steps)
	assert.Equal(t, day1, got[0].Day)

	require.NoError(t, f.s.AddWater(ctx, 300))
	f.flush(t)
	f.clock.t = f.clock.t.Add(time.Minute)
	f.s.Tick(ctx)

	got = f.pub.Progress()
	require.Len(t, got, 2)
	assert.Equal(t, int64(300), got[1].WaterML)
}

func TestRefreshFallsBackToMemory(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()
	f.read(0)
	f.read(10)

	f.store.GetError = errors.New("io error")
	f.s.Tick(ctx)

	got := f.pub.Progress()
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].Steps)
	assert.Equal(t, 1, f.logs.FilterMessage("read progress failed, using in-memory state").Len())
}

func TestRefreshRetriesAfterPublishFailure(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	ctx := context.Background()

	f.pub.SetPublishError(errors.New("broker down"))
	f.s.Tick(ctx)
	assert.Empty(t, f.pub.Progress())

	f.pub.SetPublishError(nil)
	f.s.Tick(ctx)
	assert.Len(t, f.pub.Progress(), 1)
}

func TestPersistFailureIsLoggedNotFatal(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.store.SetErr(errors.New("disk full"))

	f.read(100)
	f.read(250)
	f.flush(t)

	assert.Equal(t, int64(150), f.s.Snapshot().Steps, "in-memory state stays authoritative")
	assert.NotZero(t, f.logs.FilterMessage("persist failed").Len())
}

func TestPublishFailureIsLoggedNotFatal(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.pub.SetPublishError(errors.New("broker down"))

	f.read(0)
	f.read(10001)

	assert.Equal(t, logic.AtOrAboveGoal, f.s.Snapshot().StepsLatch)
	assert.Equal(t, 1, f.logs.FilterMessage("publish achievement failed").Len())
}

func TestGuardRejectionLogged(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.read(1000)
	f.read(1500)
	f.read(1200)

	assert.Equal(t, int64(500), f.s.Snapshot().Steps)
	entries := f.logs.FilterMessage("reading rejected by monotonic guard").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["candidate"])
}

func TestSensorUnavailableFreezesCount(t *testing.T) {
	f := newFixture(t, nil, at(day1, 8))
	f.read(0)
	f.read(700)

	f.s.HandleReading(context.Background(), sensor.Reading{Available: false})
	st := f.s.Snapshot()
	assert.False(t, st.SensorAvailable)
	assert.Equal(t, int64(700), st.Steps)
	assert.Equal(t, 1, f.logs.FilterMessage("step sensor unavailable, holding last count").Len())
}

func TestStatusUpdated(t *testing.T) {
	tr := status.NewTracker(at(day1, 0), status.Config{})
	s := New(Config{
		Goals:  testGoals,
		Store:  store.NewFakeStore(nil),
		Status: tr,
		Now:    (&clock{t: at(day1, 9)}).now,
	})
	defer s.Close()
	s.Restore(context.Background())

	s.HandleReading(context.Background(), sensor.Reading{Steps: 10, Available: true})
	s.HandleReading(context.Background(), sensor.Reading{Steps: 60, Available: true})

	snap := tr.Snapshot()
	assert.Equal(t, int64(50), snap.State.Steps)
	assert.Equal(t, testGoals, snap.Goals)
	assert.Equal(t, 2, snap.Counts.Readings)
	assert.Equal(t, at(day1, 9), snap.LastReading)
	assert.True(t, snap.Ready())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(Config{Goals: testGoals, Store: store.NewFakeStore(nil)})
	s.Close()
	s.Close()
	assert.NoError(t, s.Flush(context.Background()))
}
