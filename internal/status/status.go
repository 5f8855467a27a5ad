// Package status provides a thread-safe view of the step-sensor daemon for
// HTTP handlers and system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/step-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	SensorKind  string
	RefreshMs   int64
	HeartbeatMs int64
	Broker      string
	NATSURL     string
	Store       string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         logic.State
	Goals         logic.Goals
	Counts        logic.Counts
	LastReading   time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the tracker has anchored a baseline for today.
func (s Snapshot) Ready() bool {
	return s.State.Baseline.Day != "" && s.State.Baseline.Day == s.State.Day
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest tracker state. Called by the session after
// every input it processes.
func (t *Tracker) Update(state logic.State, goals logic.Goals, counts logic.Counts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Goals = goals
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetLastReading records when the sensor last delivered a reading.
func (t *Tracker) SetLastReading(at time.Time) {
	t.mu.Lock()
	t.snap.LastReading = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the broker connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
