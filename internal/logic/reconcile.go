package logic

import "time"

// DayLayout is the format of day keys.
const DayLayout = "2006-01-02"

// DayKey returns the calendar date of t in t's own location.
// Callers pass local time; a timezone change therefore shows up as a
// different key and is treated as a new day.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// Reconciliation is the outcome of Reconcile.
type Reconciliation struct {
	DisplaySteps int64
	Baseline     Baseline
	// RolledOver is true when the baseline was re-anchored to this reading.
	RolledOver bool
}

// Reconcile turns a raw cumulative reading into today's zero-based step count.
//
// If stored is absent or belongs to another day, the reading becomes the new
// baseline and the display count is 0. A reading below the stored baseline
// (sensor reset mid-day) clamps to 0 and does not start a new day.
func Reconcile(raw int64, today string, stored Baseline) Reconciliation {
	if raw < 0 {
		raw = 0
	}

	if stored.Day == "" || stored.Day != today {
		return Reconciliation{
			DisplaySteps: 0,
			Baseline:     Baseline{Day: today, Value: raw},
			RolledOver:   true,
		}
	}

	display := raw - stored.Value
	if display < 0 {
		display = 0
	}
	return Reconciliation{DisplaySteps: display, Baseline: stored}
}

// ApplyGuard keeps the displayed count from going backwards within a day.
// It returns the count to display and whether the candidate was accepted.
func ApplyGuard(candidate, lastKnown int64) (int64, bool) {
	if candidate >= lastKnown {
		return candidate, true
	}
	return lastKnown, false
}

// CheckThreshold fires once on the edge previous < goal <= current.
// A latch already at AtOrAboveGoal never fires again.
func CheckThreshold(previous, current, goal int64, latch Latch) (Latch, bool) {
	if latch == AtOrAboveGoal {
		return latch, false
	}
	if previous < goal && current >= goal {
		return AtOrAboveGoal, true
	}
	return BelowGoal, false
}
