package logic

import "time"

// Tracker owns the per-day baseline, guard and latch state for one user.
// It is not safe for concurrent use; the caller processes one input at a time.
type Tracker struct {
	goals  Goals
	state  State
	counts Counts
}

// NewTracker creates a tracker resuming from state. A zero State is a fresh
// install: the first reading becomes the baseline.
func NewTracker(goals Goals, state State) *Tracker {
	if state.StepsLatch == "" {
		state.StepsLatch = BelowGoal
	}
	if state.WaterLatch == "" {
		state.WaterLatch = BelowGoal
	}
	return &Tracker{goals: goals, state: state}
}

// Process runs one sensor reading through reconcile, guard and threshold.
func (t *Tracker) Process(r Reading) Result {
	var res Result
	today := DayKey(r.Time)
	t.rollover(today, r.Time, &res)

	if !r.Available {
		// Count freezes at the last known value.
		if t.state.SensorAvailable {
			t.state.SensorAvailable = false
			res.Changed = true
			res.Events = append(res.Events, Event{
				Timestamp: r.Time,
				Type:      EventSensorUnavailable,
				Metric:    MetricSteps,
				Day:       today,
				Value:     t.state.Steps,
			})
		}
		return res
	}
	if !t.state.SensorAvailable {
		t.state.SensorAvailable = true
		res.Changed = true
		res.Events = append(res.Events, Event{
			Timestamp: r.Time,
			Type:      EventSensorAvailable,
			Metric:    MetricSteps,
			Day:       today,
			Value:     t.state.Steps,
		})
	}

	t.counts.Readings++
	raw := r.Steps
	if raw < 0 {
		raw = 0
	}
	if raw != t.state.LastRaw {
		t.state.LastRaw = raw
		res.Changed = true
	}

	previous := t.state.Steps
	rec := Reconcile(raw, today, t.state.Baseline)

	var steps int64
	if rec.RolledOver {
		// The guard restarts from the new day's first count. A baseline lost
		// mid-day is re-anchored below raw so the count carries on from
		// previous instead of dropping to zero.
		t.state.Baseline = rec.Baseline
		steps = rec.DisplaySteps
		if previous > 0 {
			t.state.Baseline.Value = raw - previous
			if t.state.Baseline.Value < 0 {
				t.state.Baseline.Value = 0
			}
			steps = previous
		}
		res.Changed = true
		res.Events = append(res.Events, Event{
			Timestamp: r.Time,
			Type:      EventBaselineReset,
			Metric:    MetricSteps,
			Day:       today,
			Value:     t.state.Baseline.Value,
			Previous:  previous,
		})
	} else {
		accepted, ok := ApplyGuard(rec.DisplaySteps, previous)
		if !ok {
			t.counts.Rejected++
			res.Events = append(res.Events, Event{
				Timestamp: r.Time,
				Type:      EventReadingRejected,
				Metric:    MetricSteps,
				Day:       today,
				Value:     rec.DisplaySteps,
				Previous:  previous,
			})
		}
		steps = accepted
	}

	if steps != previous {
		t.state.Steps = steps
		res.Changed = true
	}
	t.checkGoal(MetricSteps, previous, steps, r.Time, &res)
	return res
}

// AddWater records an intake delta in milliliters. Negative deltas undo
// earlier intake; the daily total never drops below zero.
func (t *Tracker) AddWater(ml int64, now time.Time) Result {
	var res Result
	t.rollover(DayKey(now), now, &res)

	previous := t.state.WaterML
	total := previous + ml
	if total < 0 {
		total = 0
	}
	if total != previous {
		t.state.WaterML = total
		res.Changed = true
	}
	t.checkGoal(MetricWater, previous, total, now, &res)
	return res
}

// Acknowledge clears the achievement latch for metric.
func (t *Tracker) Acknowledge(metric Metric, now time.Time) Result {
	var res Result
	t.rollover(DayKey(now), now, &res)

	latch := t.latch(metric)
	if latch == nil || *latch == BelowGoal {
		return res
	}
	*latch = BelowGoal
	res.Changed = true
	res.Events = append(res.Events, Event{
		Timestamp: now,
		Type:      EventGoalAcknowledged,
		Metric:    metric,
		Day:       t.state.Day,
		Value:     t.value(metric),
		Goal:      t.goal(metric),
	})
	return res
}

// Tick detects a day change when no other input has arrived.
func (t *Tracker) Tick(now time.Time) Result {
	var res Result
	t.rollover(DayKey(now), now, &res)
	return res
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	return t.state
}

// Goals returns the configured goals.
func (t *Tracker) Goals() Goals {
	return t.goals
}

// SetGoals replaces the goals. Latches are kept; a goal lowered below the
// current value does not fire until the next day because no crossing occurs.
func (t *Tracker) SetGoals(goals Goals) {
	t.goals = goals
}

// Counts returns a copy of the activity counters.
func (t *Tracker) Counts() Counts {
	return t.counts
}

// Summary returns the running summary of the current day.
func (t *Tracker) Summary() DaySummary {
	return DaySummary{
		Day:           t.state.Day,
		Steps:         t.state.Steps,
		WaterML:       t.state.WaterML,
		StepsGoal:     t.goals.Steps,
		WaterGoal:     t.goals.WaterML,
		StepsAchieved: t.goals.Steps > 0 && t.state.Steps >= t.goals.Steps,
		WaterAchieved: t.goals.WaterML > 0 && t.state.WaterML >= t.goals.WaterML,
	}
}

// rollover resets the daily counters and latches when today differs from the
// tracked day. The step baseline is left for Reconcile to re-anchor on the
// next reading.
func (t *Tracker) rollover(today string, now time.Time, res *Result) {
	if t.state.Day == today {
		return
	}

	if t.state.Day != "" {
		closed := t.Summary()
		res.Closed = &closed
		t.counts.Rollovers++
		res.Events = append(res.Events, Event{
			Timestamp: now,
			Type:      EventDayRollover,
			Day:       today,
			Value:     0,
			Previous:  t.state.Steps,
		})
	}

	t.state.Day = today
	t.state.Steps = 0
	t.state.WaterML = 0
	t.state.StepsLatch = BelowGoal
	t.state.WaterLatch = BelowGoal
	res.Changed = true
}

func (t *Tracker) checkGoal(metric Metric, previous, current int64, now time.Time, res *Result) {
	latch := t.latch(metric)
	goal := t.goal(metric)

	next, fired := CheckThreshold(previous, current, goal, *latch)
	if next != *latch {
		*latch = next
		res.Changed = true
	}
	if !fired {
		return
	}

	switch metric {
	case MetricSteps:
		t.counts.StepsReached++
	case MetricWater:
		t.counts.WaterReached++
	}
	res.Events = append(res.Events, Event{
		Timestamp: now,
		Type:      EventGoalReached,
		Metric:    metric,
		Day:       t.state.Day,
		Value:     current,
		Previous:  previous,
		Goal:      goal,
	})
}

func (t *Tracker) latch(metric Metric) *Latch {
	switch metric {
	case MetricSteps:
		return &t.state.StepsLatch
	case MetricWater:
		return &t.state.WaterLatch
	}
	return nil
}

func (t *Tracker) goal(metric Metric) int64 {
	if metric == MetricWater {
		return t.goals.WaterML
	}
	return t.goals.Steps
}

func (t *Tracker) value(metric Metric) int64 {
	if metric == MetricWater {
		return t.state.WaterML
	}
	return t.state.Steps
}
