// Package logic contains the pure step and water tracking rules.
// This package has NO external dependencies (no sensors, storage, MQTT or OS).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Metric names a tracked daily quantity.
type Metric string

const (
	MetricSteps Metric = "steps"
	MetricWater Metric = "water"
)

// Latch is the per-metric achievement state for the current day.
type Latch string

const (
	BelowGoal     Latch = "BELOW_GOAL"
	AtOrAboveGoal Latch = "AT_OR_ABOVE_GOAL"
)

// EventType identifies something the tracker observed.
type EventType string

const (
	EventGoalReached       EventType = "GOAL_REACHED"
	EventGoalAcknowledged  EventType = "GOAL_ACKNOWLEDGED"
	EventReadingRejected   EventType = "READING_REJECTED"
	EventBaselineReset     EventType = "BASELINE_RESET"
	EventDayRollover       EventType = "DAY_ROLLOVER"
	EventSensorUnavailable EventType = "SENSOR_UNAVAILABLE"
	EventSensorAvailable   EventType = "SENSOR_AVAILABLE"
)

// Event is emitted by the Tracker. Only GOAL_REACHED is meant for users;
// the rest are diagnostics.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Metric    Metric
	Day       string
	// Value is the current value of Metric (or the rejected candidate for
	// READING_REJECTED, or the new baseline for BASELINE_RESET).
	Value int64
	// Previous is the value before this observation.
	Previous int64
	Goal     int64
}

// Baseline is the raw cumulative sensor count treated as zero for Day.
// A zero Day means no baseline has been recorded.
type Baseline struct {
	Day   string
	Value int64
}

// Goals holds the daily targets. Callers validate that both are > 0.
type Goals struct {
	Steps   int64
	WaterML int64
}

// Reading is a single sensor sample.
type Reading struct {
	Steps     int64 // cumulative, ever-increasing counter
	Available bool
	Time      time.Time
}

// State is everything the Tracker needs to resume after a restart.
type State struct {
	Day             string
	Baseline        Baseline
	Steps           int64 // displayed steps, also the guard's last known value
	LastRaw         int64
	WaterML         int64
	StepsLatch      Latch
	WaterLatch      Latch
	SensorAvailable bool
}

// DaySummary is the closing record of a finished day.
type DaySummary struct {
	Day           string `json:"day"`
	Steps         int64  `json:"steps"`
	WaterML       int64  `json:"water_ml"`
	StepsGoal     int64  `json:"steps_goal"`
	WaterGoal     int64  `json:"water_goal"`
	StepsAchieved bool   `json:"steps_achieved"`
	WaterAchieved bool   `json:"water_achieved"`
}

// Result is returned by every Tracker operation.
type Result struct {
	Events []Event
	// Changed reports whether State differs from before the call.
	Changed bool
	// Closed is set when the call rolled the tracker over to a new day.
	Closed *DaySummary
}

// Counts tracks tracker activity since startup.
type Counts struct {
	Readings     int
	Rejected     int
	Rollovers    int
	StepsReached int
	WaterReached int
}
