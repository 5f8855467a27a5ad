// Package notify defines the achievement and progress messages the daemon
// publishes, independent of the broker that carries them.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/step-sensor/internal/logic"
)

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
)

// Publisher delivers messages to a notification bus.
// Errors are reported to the caller and must never crash the process.
type Publisher interface {
	// Publish sends an achievement. Only GOAL_REACHED events are published.
	Publish(n Notification) error

	// PublishProgress sends the current daily progress. Brokers that
	// support it keep the last progress message for late subscribers.
	PublishProgress(p Progress) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the bus.
	Close() error
}

// ConnectionStatus reports whether a publisher's connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Notification is an achievement with a unique ID so consumers receiving it
// over more than one bus can deduplicate.
type Notification struct {
	ID    string
	Event logic.Event
}

// NewEventID returns a random identifier for a notification.
func NewEventID() string {
	return uuid.NewString()
}

// NewNotification wraps event with a fresh ID.
func NewNotification(event logic.Event) Notification {
	return Notification{ID: NewEventID(), Event: event}
}

// Progress is the daily progress shown on a notification surface.
type Progress struct {
	Timestamp  time.Time
	Day        string
	Steps      int64
	StepsGoal  int64
	StepsLatch logic.Latch
	WaterML    int64
	WaterGoal  int64
	WaterLatch logic.Latch
}

// Same reports whether p and o show the same progress, ignoring Timestamp.
func (p Progress) Same(o Progress) bool {
	p.Timestamp = time.Time{}
	o.Timestamp = time.Time{}
	return p == o
}

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it
	Retained   bool
}

// GoalPayload is the wire format of an achievement.
type GoalPayload struct {
	Goal GoalPayloadInner `json:"goal"`
}

// GoalPayloadInner contains the achievement details.
type GoalPayloadInner struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Metric    string `json:"metric"`
	Day       string `json:"day"`
	Value     int64  `json:"value"`
	Goal      int64  `json:"goal"`
}

// FormatPayload creates the JSON payload for an achievement.
func FormatPayload(n Notification) ([]byte, error) {
	return json.Marshal(GoalPayload{
		Goal: GoalPayloadInner{
			ID:        n.ID,
			Timestamp: n.Event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(n.Event.Type),
			Metric:    string(n.Event.Metric),
			Day:       n.Event.Day,
			Value:     n.Event.Value,
			Goal:      n.Event.Goal,
		},
	})
}

// ProgressPayload is the wire format of a progress update.
type ProgressPayload struct {
	Progress ProgressPayloadInner `json:"progress"`
}

// ProgressPayloadInner contains the progress details.
type ProgressPayloadInner struct {
	Timestamp string     `json:"timestamp"`
	Day       string     `json:"day"`
	Steps     MetricJSON `json:"steps"`
	Water     MetricJSON `json:"water"`
}

// MetricJSON is one metric's progress towards its goal.
type MetricJSON struct {
	Value    int64  `json:"value"`
	Goal     int64  `json:"goal"`
	Achieved bool   `json:"achieved"`
	Latch    string `json:"latch"`
}

func metricJSON(value, goal int64, latch logic.Latch) MetricJSON {
	if latch == "" {
		latch = logic.BelowGoal
	}
	return MetricJSON{
		Value:    value,
		Goal:     goal,
		Achieved: goal > 0 && value >= goal,
		Latch:    string(latch),
	}
}

// FormatProgressPayload creates the JSON payload for a progress update.
func FormatProgressPayload(p Progress) ([]byte, error) {
	return json.Marshal(ProgressPayload{
		Progress: ProgressPayloadInner{
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
			Day:       p.Day,
			Steps:     metricJSON(p.Steps, p.StepsGoal, p.StepsLatch),
			Water:     metricJSON(p.WaterML, p.WaterGoal, p.WaterLatch),
		},
	})
}

// SystemPayload is the wire format for system events that carry no status
// snapshot (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
