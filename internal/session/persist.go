package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/notify"
)

// Store keys.
const (
	KeyBaselineDay   = "baseline.day"
	KeyBaselineValue = "baseline.value"
	KeyStepsDay      = "steps.day"
	KeyStepsDisplay  = "steps.display"
	KeySensorRaw     = "sensor.raw"
	KeyWaterDay      = "water.day"
	KeyWaterML       = "water.ml"
	// Latch keys hold the day the goal fired; empty means below goal.
	KeyLatchSteps = "latch.steps"
	KeyLatchWater = "latch.water"
	// HistoryPrefix is followed by the day, e.g. history/2024-05-01.
	HistoryPrefix = "history/"
)

const (
	readTimeout        = 5 * time.Second
	defaultHistoryDays = 7
	maxHistoryDays     = 366
)

// Restore loads persisted state. Missing or unreadable keys fall back to
// defaults with a warning. Values from an earlier day are dropped, except
// the baseline which the next reading re-anchors, and that day's totals are
// kept as history.
func (s *Session) Restore(ctx context.Context) {
	today := logic.DayKey(s.now())
	vals := s.readKeys(ctx,
		KeyBaselineDay, KeyBaselineValue, KeyStepsDay, KeyStepsDisplay,
		KeySensorRaw, KeyWaterDay, KeyWaterML, KeyLatchSteps, KeyLatchWater)
	for k, v := range vals {
		s.persisted[k] = v
	}

	var st logic.State
	if day := vals[KeyBaselineDay]; day != "" {
		if v, ok := s.parseInt(KeyBaselineValue, vals); ok {
			st.Baseline = logic.Baseline{Day: day, Value: v}
		}
	}
	rawOK := false
	if v, ok := s.parseInt(KeySensorRaw, vals); ok {
		st.LastRaw, rawOK = v, true
	}

	stepsDay, waterDay := vals[KeyStepsDay], vals[KeyWaterDay]
	if stepsDay == today {
		st.Day = today
		st.Steps, _ = s.parseInt(KeyStepsDisplay, vals)
	}
	if waterDay == today {
		st.Day = today
		st.WaterML, _ = s.parseInt(KeyWaterML, vals)
	}
	if st.Baseline.Day == today {
		st.Day = today
	}
	// Today's count survived but its baseline did not: rebuild it from the
	// last raw reading so the count continues instead of restarting.
	if st.Day == today && st.Baseline.Day != today && st.Steps > 0 && rawOK {
		base := st.LastRaw - st.Steps
		if base < 0 {
			base = 0
		}
		st.Baseline = logic.Baseline{Day: today, Value: base}
		s.log.Warn("baseline missing, rebuilt from last raw count",
			zap.Int64("raw", st.LastRaw), zap.Int64("steps", st.Steps), zap.Int64("baseline", base))
	}
	if st.Day == today {
		st.StepsLatch = latchFor(vals[KeyLatchSteps], today)
		st.WaterLatch = latchFor(vals[KeyLatchWater], today)
	}

	s.tracker = logic.NewTracker(s.tracker.Goals(), st)

	// Finish the history of a day the daemon did not see end.
	for _, day := range staleDays(today, stepsDay, waterDay) {
		sum := logic.DaySummary{Day: day, StepsGoal: s.tracker.Goals().Steps, WaterGoal: s.tracker.Goals().WaterML}
		if stepsDay == day {
			sum.Steps, _ = s.parseInt(KeyStepsDisplay, vals)
		}
		if waterDay == day {
			sum.WaterML, _ = s.parseInt(KeyWaterML, vals)
		}
		sum.StepsAchieved = sum.StepsGoal > 0 && sum.Steps >= sum.StepsGoal
		sum.WaterAchieved = sum.WaterGoal > 0 && sum.WaterML >= sum.WaterGoal

		if _, ok, err := s.store.Get(ctx, HistoryPrefix+day); err == nil && !ok {
			s.writeHistory(sum)
		}
	}

	s.log.Info("state restored",
		zap.String("day", today),
		zap.String("baseline_day", st.Baseline.Day),
		zap.Int64("baseline", st.Baseline.Value),
		zap.Int64("steps", st.Steps),
		zap.Int64("water_ml", st.WaterML))

	if s.status != nil {
		s.status.Update(s.tracker.State(), s.tracker.Goals(), s.tracker.Counts())
	}
	s.metrics.SetState(s.tracker.State())
}

func (s *Session) readKeys(ctx context.Context, keys ...string) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	vals := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := s.store.Get(ctx, k)
		if err != nil {
			s.log.Warn("read persisted state failed, using default", zap.String("key", k), zap.Error(err))
			continue
		}
		if ok {
			vals[k] = v
		}
	}
	return vals
}

func (s *Session) parseInt(key string, vals map[string]string) (int64, bool) {
	raw, ok := vals[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		s.log.Warn("corrupt persisted value, using default", zap.String("key", key), zap.String("value", raw))
		return 0, false
	}
	return v, true
}

func latchFor(firedDay, today string) logic.Latch {
	if firedDay == today {
		return logic.AtOrAboveGoal
	}
	return logic.BelowGoal
}

func staleDays(today string, days ...string) []string {
	var out []string
	for _, d := range days {
		if d == "" || d == today {
			continue
		}
		dup := false
		for _, o := range out {
			dup = dup || o == d
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

// stateValues maps tracker state to store keys.
func stateValues(st logic.State) map[string]string {
	latch := func(l logic.Latch) string {
		if l == logic.AtOrAboveGoal {
			return st.Day
		}
		return ""
	}
	return map[string]string{
		KeyBaselineDay:   st.Baseline.Day,
		KeyBaselineValue: strconv.FormatInt(st.Baseline.Value, 10),
		KeyStepsDay:      st.Day,
		KeyStepsDisplay:  strconv.FormatInt(st.Steps, 10),
		KeySensorRaw:     strconv.FormatInt(st.LastRaw, 10),
		KeyWaterDay:      st.Day,
		KeyWaterML:       strconv.FormatInt(st.WaterML, 10),
		KeyLatchSteps:    latch(st.StepsLatch),
		KeyLatchWater:    latch(st.WaterLatch),
	}
}

// persist queues writes for the keys whose value changed.
func (s *Session) persist(st logic.State) {
	if s.closed {
		return
	}
	vals := stateValues(st)
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := vals[k]
		if old, ok := s.persisted[k]; ok && old == v {
			continue
		}
		s.persisted[k] = v
		s.w.enqueue(k, v)
	}
}

func (s *Session) writeHistory(sum logic.DaySummary) {
	if s.closed || sum.Day == "" {
		return
	}
	data, err := json.Marshal(sum)
	if err != nil {
		s.log.Warn("encode history failed", zap.String("day", sum.Day), zap.Error(err))
		return
	}
	s.w.enqueue(HistoryPrefix+sum.Day, string(data))
}

// History returns up to days daily summaries, newest first. The running
// summary of the current day is included.
func (s *Session) History(ctx context.Context, days int) ([]logic.DaySummary, error) {
	if days <= 0 {
		days = defaultHistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}

	entries, err := s.store.List(ctx, HistoryPrefix)
	if err != nil {
		return nil, err
	}

	current := s.tracker.Summary()
	out := make([]logic.DaySummary, 0, len(entries)+1)
	if current.Day != "" {
		out = append(out, current)
	}
	for _, e := range entries {
		day := strings.TrimPrefix(e.Key, HistoryPrefix)
		if day == current.Day {
			continue
		}
		var sum logic.DaySummary
		if err := json.Unmarshal([]byte(e.Value), &sum); err != nil {
			s.log.Warn("skipping corrupt history entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	if len(out) > days {
		out = out[:days]
	}
	return out, nil
}

// refresh publishes the persisted progress when it differs from the last
// published progress. A failed read falls back to in-memory state.
func (s *Session) refresh(ctx context.Context) {
	if s.pub == nil {
		return
	}
	now := s.now()
	p, err := s.persistedProgress(ctx, logic.DayKey(now))
	if err != nil {
		s.log.Warn("read progress failed, using in-memory state", zap.Error(err))
		p = s.memoryProgress()
	}
	p.Timestamp = now

	if s.lastProgress != nil && s.lastProgress.Same(p) {
		return
	}
	if err := s.pub.PublishProgress(p); err != nil {
		s.metrics.PublishError()
		s.log.Warn("publish progress failed", zap.Error(err))
		return
	}
	s.lastProgress = &p
}

func (s *Session) persistedProgress(ctx context.Context, today string) (notify.Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	get := func(key string) (string, error) {
		v, _, err := s.store.Get(ctx, key)
		return v, err
	}
	goals := s.tracker.Goals()
	p := notify.Progress{Day: today, StepsGoal: goals.Steps, WaterGoal: goals.WaterML}

	keys := []string{KeyStepsDay, KeyStepsDisplay, KeyWaterDay, KeyWaterML, KeyLatchSteps, KeyLatchWater}
	vals := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := get(k)
		if err != nil {
			return notify.Progress{}, err
		}
		vals[k] = v
	}

	if vals[KeyStepsDay] == today {
		p.Steps, _ = strconv.ParseInt(vals[KeyStepsDisplay], 10, 64)
	}
	if vals[KeyWaterDay] == today {
		p.WaterML, _ = strconv.ParseInt(vals[KeyWaterML], 10, 64)
	}
	p.StepsLatch = latchFor(vals[KeyLatchSteps], today)
	p.WaterLatch = latchFor(vals[KeyLatchWater], today)
	return p, nil
}

func (s *Session) memoryProgress() notify.Progress {
	st := s.tracker.State()
	goals := s.tracker.Goals()
	return notify.Progress{
		Day:        st.Day,
		Steps:      st.Steps,
		StepsGoal:  goals.Steps,
		StepsLatch: st.StepsLatch,
		WaterML:    st.WaterML,
		WaterGoal:  goals.WaterML,
		WaterLatch: st.WaterLatch,
	}
}
